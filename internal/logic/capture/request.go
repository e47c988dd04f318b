package capture

import (
	"fmt"
	"path"
	"time"

	"github.com/cjeanneret/StillGo/internal/media"
)

const (
	// MIMEType of every captured photo.
	MIMEType = "image/jpeg"
	// PicturesDir is the shared directory photos are saved under.
	PicturesDir = "Pictures"
)

// Request describes where one photo goes. A new request is built for every
// shutter press.
type Request struct {
	Name         string // yyyy-MM-dd-HH-mm-ss-SSS
	MIMEType     string
	RelativePath string
	Collection   media.Collection
	Time         time.Time
}

// NewRequest names a photo after now (millisecond precision) and targets
// Pictures/<subfolder> in the external images collection.
func NewRequest(now time.Time, subfolder string) Request {
	return Request{
		Name:         FileName(now),
		MIMEType:     MIMEType,
		RelativePath: path.Join(PicturesDir, subfolder),
		Collection:   media.ImagesExternal,
		Time:         now,
	}
}

// FileName formats t as yyyy-MM-dd-HH-mm-ss-SSS.
func FileName(t time.Time) string {
	return t.Format("2006-01-02-15-04-05") + fmt.Sprintf("-%03d", t.Nanosecond()/int(time.Millisecond))
}

// Values returns the media store metadata for the request.
func (r Request) Values() media.ContentValues {
	return media.ContentValues{
		DisplayName:  r.Name,
		MIMEType:     r.MIMEType,
		RelativePath: r.RelativePath,
	}
}

// Outcome is the result of the persisting path of one request: either a
// Location or an Err.
type Outcome struct {
	Request  Request
	Location media.Location
	Err      error
}

// OK reports whether the photo was saved.
func (o Outcome) OK() bool { return o.Err == nil }

func (o Outcome) String() string {
	if o.Err != nil {
		return fmt.Sprintf("%s: failed: %v", o.Request.Name, o.Err)
	}
	return fmt.Sprintf("%s: saved to %s", o.Request.Name, o.Location.URI)
}
