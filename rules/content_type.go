package rules

import (
	"iter"
	"math/bits"
	"strings"
)

// ContentType is a bitmask of resource kinds and special request flags.
type ContentType uint32

// ContentType enumeration.  The values are stable and may be persisted.
const (
	// TypeOther is any other request type.  $other, $xbl, $dtd
	TypeOther ContentType = 1 << 0
	// TypeScript (javascript, etc) $script
	TypeScript ContentType = 1 << 1
	// TypeImage (any image) $image, $background
	TypeImage ContentType = 1 << 2
	// TypeStylesheet (css) $stylesheet
	TypeStylesheet ContentType = 1 << 3
	// TypeObject (flash, etc) $object, $object-subrequest
	TypeObject ContentType = 1 << 4
	// TypeSubdocument (iframe) $subdocument
	TypeSubdocument ContentType = 1 << 5
	// TypeWebsocket (a websocket connection) $websocket
	TypeWebsocket ContentType = 1 << 7
	// TypeWebRTC (a peer connection) $webrtc
	TypeWebRTC ContentType = 1 << 8
	// TypePing (navigator.sendBeacon() or ping attribute on links) $ping
	TypePing ContentType = 1 << 10
	// TypeXmlhttprequest (ajax/fetch) $xmlhttprequest
	TypeXmlhttprequest ContentType = 1 << 11
	// TypeMedia (video/music) $media
	TypeMedia ContentType = 1 << 14
	// TypeFont (any custom font) $font
	TypeFont ContentType = 1 << 15

	// TypePopup is a new window opened by the page.  $popup
	TypePopup ContentType = 1 << 24
	// TypeCSP is a Content-Security-Policy injection.  $csp
	TypeCSP ContentType = 1 << 25
	// TypeHeader is a response header check.  $header
	TypeHeader ContentType = 1 << 26
	// TypeDocument allowlists a whole document.  $document
	TypeDocument ContentType = 1 << 27
	// TypeGenericBlock disables generic blocking rules.  $genericblock
	TypeGenericBlock ContentType = 1 << 28
	// TypeElemHide disables element hiding.  $elemhide
	TypeElemHide ContentType = 1 << 29
	// TypeGenericHide disables generic element hiding.  $generichide
	TypeGenericHide ContentType = 1 << 30
)

const (
	// TypesResource is the mask of all resource types.  It is the default
	// content type of a URL rule.
	TypesResource ContentType = 1<<24 - 1

	// TypesSpecial is the mask of all flags which are not resource types.
	TypesSpecial ContentType = ^TypesResource & (1<<31 - 1)

	// TypesAllowing is the mask of flags which only make sense for allowing
	// rules.
	TypesAllowing = TypeDocument | TypeElemHide | TypeGenericHide | TypeGenericBlock
)

// contentTypeNames maps option names to content types.  Option names are
// lower-cased before the lookup.
var contentTypeNames = map[string]ContentType{
	"other":             TypeOther,
	"xbl":               TypeOther,
	"dtd":               TypeOther,
	"script":            TypeScript,
	"image":             TypeImage,
	"background":        TypeImage,
	"stylesheet":        TypeStylesheet,
	"object":            TypeObject,
	"object-subrequest": TypeObject,
	"subdocument":       TypeSubdocument,
	"websocket":         TypeWebsocket,
	"webrtc":            TypeWebRTC,
	"ping":              TypePing,
	"xmlhttprequest":    TypeXmlhttprequest,
	"media":             TypeMedia,
	"font":              TypeFont,
	"popup":             TypePopup,
	"csp":               TypeCSP,
	"header":            TypeHeader,
	"document":          TypeDocument,
	"genericblock":      TypeGenericBlock,
	"elemhide":          TypeElemHide,
	"generichide":       TypeGenericHide,
}

// canonicalNames are the names used by String.
var canonicalNames = map[ContentType]string{
	TypeOther:          "other",
	TypeScript:         "script",
	TypeImage:          "image",
	TypeStylesheet:     "stylesheet",
	TypeObject:         "object",
	TypeSubdocument:    "subdocument",
	TypeWebsocket:      "websocket",
	TypeWebRTC:         "webrtc",
	TypePing:           "ping",
	TypeXmlhttprequest: "xmlhttprequest",
	TypeMedia:          "media",
	TypeFont:           "font",
	TypePopup:          "popup",
	TypeCSP:            "csp",
	TypeHeader:         "header",
	TypeDocument:       "document",
	TypeGenericBlock:   "genericblock",
	TypeElemHide:       "elemhide",
	TypeGenericHide:    "generichide",
}

// ParseContentType returns the content type for the option name.  ok is false
// if name is not a content type name.
func ParseContentType(name string) (t ContentType, ok bool) {
	t, ok = contentTypeNames[strings.ToLower(name)]

	return t, ok
}

// Count returns the count of the enabled flags.
func (t ContentType) Count() (n int) {
	return bits.OnesCount32(uint32(t))
}

// IsSingleSpecial returns true if t is exactly one special flag.
func (t ContentType) IsSingleSpecial() (ok bool) {
	return t&TypesSpecial != 0 && t&(t-1) == 0
}

// Bits yields every set bit of t from the lowest to the highest.
func (t ContentType) Bits() (seq iter.Seq[ContentType]) {
	return func(yield func(ContentType) bool) {
		for rest := uint32(t); rest != 0; rest &= rest - 1 {
			if !yield(ContentType(rest & -rest)) {
				return
			}
		}
	}
}

// String implements the [fmt.Stringer] interface for ContentType.
func (t ContentType) String() (s string) {
	if t == 0 {
		return "none"
	}

	var names []string
	for b := range t.Bits() {
		name, ok := canonicalNames[b]
		if !ok {
			name = "unknown"
		}

		names = append(names, name)
	}

	return strings.Join(names, "|")
}
