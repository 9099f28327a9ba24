// Package protocol defines the wire constants and response types of the
// Dropbox REST API.
package protocol

// Version is the API version prefix of every endpoint path.
const Version = "0"

// API hosts. The SSL variants are selected when a session or call asks for SSL.
const (
	Host    = "http://api.dropbox.com"
	SSLHost = "https://api.dropbox.com"

	ContentHost    = "http://api-content.dropbox.com"
	ContentSSLHost = "https://api-content.dropbox.com"

	AuthorizeHost    = "http://www.dropbox.com"
	AuthorizeSSLHost = "https://www.dropbox.com"
)

// Endpoint names. Path-based endpoints are followed by /<root>/<path>.
const (
	EndpointAccountInfo   = "account/info"
	EndpointFiles         = "files"
	EndpointThumbnails    = "thumbnails"
	EndpointMetadata      = "metadata"
	EndpointLinks         = "links"
	EndpointCopy          = "fileops/copy"
	EndpointMove          = "fileops/move"
	EndpointCreateFolder  = "fileops/create_folder"
	EndpointDelete        = "fileops/delete"
	EndpointEventMetadata = "event_metadata"
	EndpointEventContent  = "event_content"

	EndpointRequestToken = "oauth/request_token"
	EndpointAuthorize    = "oauth/authorize"
	EndpointAccessToken  = "oauth/access_token"
)

// AlternateHosts maps endpoints served by the content host.
var AlternateHosts = map[string]string{
	EndpointFiles:      ContentHost,
	EndpointThumbnails: ContentHost,
}

// AlternateSSLHosts is AlternateHosts for SSL requests.
var AlternateSSLHosts = map[string]string{
	EndpointFiles:      ContentSSLHost,
	EndpointThumbnails: ContentSSLHost,
}

// Physical roots a path resolves against.
const (
	RootSandbox = "sandbox"
	RootDropbox = "dropbox"
)

// Request parameters.
const (
	ParamRoot         = "root"
	ParamPath         = "path"
	ParamFromPath     = "from_path"
	ParamToPath       = "to_path"
	ParamList         = "list"
	ParamFileLimit    = "file_limit"
	ParamHash         = "hash"
	ParamSize         = "size"
	ParamTargetEvents = "target_events"
	ParamTargetEvent  = "target_event"
	ParamVerifier     = "oauth_verifier"
	ParamCallback     = "oauth_callback"
)

// UploadField is the multipart form field carrying the uploaded file.
const UploadField = "file"

// HeaderMetadata carries the JSON metadata of an event_content response.
const HeaderMetadata = "X-Dropbox-Metadata"

// ModifiedLayout is the layout of "modified" strings in metadata responses.
const ModifiedLayout = "Mon, 02 Jan 2006 15:04:05 -0700"

// MaxPathLength is the longest path the API accepts.
const MaxPathLength = 256

// ErrorResponse is the JSON body returned alongside most error statuses.
type ErrorResponse struct {
	Error string `json:"error"`
}

// EventMetadataResponse is returned by POST /event_metadata. Keys are user,
// namespace and journal IDs, leaves are the attribute maps of each revision.
type EventMetadataResponse map[string]map[string]map[string]map[string]interface{}

// Pingback is the payload posted to an application's pingback URL:
// user ID -> namespace ID -> journal IDs.
type Pingback map[string]map[string][]int64
