package suite

import (
	"fmt"
	"strings"
)

// JobType discriminates the kind of generation request a job represents.
type JobType string

// Supported job types.
const (
	TypeTextToVideo     JobType = "text_to_video"
	TypeImageToVideo    JobType = "image_to_video"
	TypeReferenceImages JobType = "reference_images"
	TypeFirstLast       JobType = "first_last"
	TypeExtendVideo     JobType = "extend_video"
	TypeGenerate        JobType = "generate"
	TypeEdit            JobType = "edit"
	TypeTryOn           JobType = "tryon"
	TypeAds             JobType = "ads"
	TypeMerge           JobType = "merge"
	TypeScenes          JobType = "scenes"
	TypeRestore         JobType = "restore"
	TypeDirectorMovie   JobType = "director_movie"
	TypeExternal        JobType = "external"
)

// JobTypes lists every job type in display order.
func JobTypes() []JobType {
	return []JobType{
		TypeTextToVideo,
		TypeImageToVideo,
		TypeReferenceImages,
		TypeFirstLast,
		TypeExtendVideo,
		TypeGenerate,
		TypeEdit,
		TypeTryOn,
		TypeAds,
		TypeMerge,
		TypeScenes,
		TypeRestore,
		TypeDirectorMovie,
		TypeExternal,
	}
}

// ParseJobType converts a raw tag into a JobType.
func ParseJobType(raw string) (JobType, error) {
	t := JobType(strings.TrimSpace(raw))
	for _, known := range JobTypes() {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown job type %q", raw)
}

// Service names a backend reachable through the gateway.
type Service string

// Backend services.
const (
	ServiceVideo      Service = "video"
	ServiceImage      Service = "image"
	ServiceDocuments  Service = "documents"
	ServiceYouTube    Service = "youtube"
	ServiceChat       Service = "chat"
	ServiceDirector   Service = "director"
	ServiceJobHistory Service = "history"
)

// Services lists the services that expose a health endpoint.
func Services() []Service {
	return []Service{ServiceImage, ServiceVideo, ServiceDocuments, ServiceYouTube, ServiceChat, ServiceDirector}
}

// Endpoint describes where a job type is submitted.
type Endpoint struct {
	Service Service
	Path    string
	// JSON marks endpoints that take a JSON body instead of multipart form data.
	JSON bool
}

// Endpoint returns the submission endpoint for t.
func (t JobType) Endpoint() (Endpoint, error) {
	switch t {
	case TypeTextToVideo:
		return Endpoint{Service: ServiceVideo, Path: "/text_to_video"}, nil
	case TypeImageToVideo:
		return Endpoint{Service: ServiceVideo, Path: "/image_to_video"}, nil
	case TypeReferenceImages:
		return Endpoint{Service: ServiceVideo, Path: "/video_from_reference_images"}, nil
	case TypeFirstLast:
		return Endpoint{Service: ServiceVideo, Path: "/video_from_first_last_frames"}, nil
	case TypeExtendVideo:
		return Endpoint{Service: ServiceVideo, Path: "/extend_veo_video"}, nil
	case TypeGenerate:
		return Endpoint{Service: ServiceImage, Path: "/image/generate"}, nil
	case TypeEdit:
		return Endpoint{Service: ServiceImage, Path: "/image/edit"}, nil
	case TypeTryOn:
		return Endpoint{Service: ServiceImage, Path: "/image/virtual_try_on"}, nil
	case TypeAds:
		return Endpoint{Service: ServiceImage, Path: "/image/create_ads"}, nil
	case TypeMerge:
		return Endpoint{Service: ServiceImage, Path: "/image/merge_images"}, nil
	case TypeScenes:
		return Endpoint{Service: ServiceImage, Path: "/image/generate_scenes"}, nil
	case TypeRestore:
		return Endpoint{Service: ServiceImage, Path: "/image/restore_old_image"}, nil
	case TypeDirectorMovie:
		return Endpoint{Service: ServiceDirector, Path: "/director/create_movie", JSON: true}, nil
	case TypeExternal:
		return Endpoint{}, fmt.Errorf("%w: %s", ErrNotSubmittable, t)
	default:
		return Endpoint{}, fmt.Errorf("unknown job type %q", t)
	}
}

// Polled reports whether jobs of this type complete asynchronously and need
// a status poller. Image types complete in the submission response.
func (t JobType) Polled() bool {
	switch t {
	case TypeTextToVideo, TypeImageToVideo, TypeReferenceImages, TypeFirstLast, TypeExtendVideo,
		TypeDirectorMovie:
		return true
	case TypeGenerate, TypeEdit, TypeTryOn, TypeAds, TypeMerge, TypeScenes, TypeRestore, TypeExternal:
		return false
	default:
		return false
	}
}

// AutoPersisted reports whether the backend records jobs of this type in the
// user's history on its own, so no external save is needed.
func (t JobType) AutoPersisted() bool {
	switch t {
	case TypeTextToVideo, TypeImageToVideo, TypeReferenceImages, TypeFirstLast, TypeExtendVideo,
		TypeGenerate, TypeEdit, TypeTryOn, TypeAds, TypeMerge, TypeScenes, TypeRestore:
		return true
	case TypeDirectorMovie, TypeExternal:
		return false
	default:
		return false
	}
}

// HandleKey names the result key that carries the remote polling handle.
func (t JobType) HandleKey() string {
	switch t {
	case TypeDirectorMovie:
		return ResultJobID
	default:
		return ResultOperationName
	}
}

// Category groups job types for display and metrics labels.
func (t JobType) Category() string {
	switch t {
	case TypeTextToVideo, TypeImageToVideo, TypeReferenceImages, TypeFirstLast, TypeExtendVideo:
		return "video"
	case TypeGenerate, TypeEdit, TypeTryOn, TypeAds, TypeMerge, TypeScenes, TypeRestore:
		return "image"
	case TypeDirectorMovie:
		return "movie"
	case TypeExternal:
		return "external"
	default:
		return "unknown"
	}
}
