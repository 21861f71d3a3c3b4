// Package message provides the chat message DTOs carried by built-in payloads.
package message

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/wagiedev/parabox-connector-go/internal/jsoncodec"
)

// ContentType discriminates MessageContent variants on the wire.
type ContentType int

// Content type constants.
const (
	ContentPlainText  ContentType = 0
	ContentImage      ContentType = 1
	ContentAt         ContentType = 2
	ContentAudio      ContentType = 3
	ContentQuoteReply ContentType = 4
	ContentAtAll      ContentType = 5
	ContentFile       ContentType = 6
	ContentLocation   ContentType = 7
)

// Content is one element of a chat message.
type Content interface {
	ContentType() ContentType
	// ContentString renders the element as a short human-readable string.
	ContentString() string
}

// Compile-time verification that all content types implement Content.
var (
	_ Content = (*PlainText)(nil)
	_ Content = (*Image)(nil)
	_ Content = (*At)(nil)
	_ Content = (*Audio)(nil)
	_ Content = (*QuoteReply)(nil)
	_ Content = (*AtAll)(nil)
	_ Content = (*File)(nil)
	_ Content = (*Location)(nil)
)

// PlainText contains plain text content.
type PlainText struct {
	Text string `json:"text"`
}

// ContentType implements the Content interface.
func (c *PlainText) ContentType() ContentType { return ContentPlainText }

// ContentString implements the Content interface.
func (c *PlainText) ContentString() string { return c.Text }

// MarshalJSON adds the type discriminator.
func (c *PlainText) MarshalJSON() ([]byte, error) {
	type alias PlainText

	return marshalTyped(ContentPlainText, (*alias)(c))
}

// Image references a picture. Height is currently unused by hosts.
type Image struct {
	URL       string `json:"url,omitempty"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
	FileName  string `json:"file_name,omitempty"`
	URI       string `json:"uri,omitempty"`
	CloudType *int   `json:"cloud_type,omitempty"`
	CloudID   string `json:"cloud_id,omitempty"`
}

// ContentType implements the Content interface.
func (c *Image) ContentType() ContentType { return ContentImage }

// ContentString implements the Content interface.
func (c *Image) ContentString() string { return "[Image]" }

// MarshalJSON adds the type discriminator.
func (c *Image) MarshalJSON() ([]byte, error) {
	type alias Image

	return marshalTyped(ContentImage, (*alias)(c))
}

// At mentions a single member.
type At struct {
	Target int64  `json:"target"`
	Name   string `json:"name"`
}

// ContentType implements the Content interface.
func (c *At) ContentType() ContentType { return ContentAt }

// ContentString implements the Content interface.
func (c *At) ContentString() string { return "@" + c.Name }

// MarshalJSON adds the type discriminator.
func (c *At) MarshalJSON() ([]byte, error) {
	type alias At

	return marshalTyped(ContentAt, (*alias)(c))
}

// Audio references a voice clip.
type Audio struct {
	URL       string `json:"url,omitempty"`
	Length    int64  `json:"length,omitempty"`
	FileName  string `json:"file_name,omitempty"`
	FileSize  int64  `json:"file_size,omitempty"`
	URI       string `json:"uri,omitempty"`
	CloudType *int   `json:"cloud_type,omitempty"`
	CloudID   string `json:"cloud_id,omitempty"`
}

// ContentType implements the Content interface.
func (c *Audio) ContentType() ContentType { return ContentAudio }

// ContentString implements the Content interface.
func (c *Audio) ContentString() string { return "[Audio]" }

// MarshalJSON adds the type discriminator.
func (c *Audio) MarshalJSON() ([]byte, error) {
	type alias Audio

	return marshalTyped(ContentAudio, (*alias)(c))
}

// QuoteReply quotes an earlier message.
type QuoteReply struct {
	SenderName *string  `json:"quote_message_sender_name,omitempty"`
	Timestamp  *int64   `json:"quote_message_timestamp,omitempty"`
	MessageID  *int64   `json:"quote_message_id,omitempty"`
	Content    Contents `json:"quote_message_content,omitempty"`
}

// ContentType implements the Content interface.
func (c *QuoteReply) ContentType() ContentType { return ContentQuoteReply }

// ContentString implements the Content interface.
func (c *QuoteReply) ContentString() string { return "[Quote]" }

// MarshalJSON adds the type discriminator.
func (c *QuoteReply) MarshalJSON() ([]byte, error) {
	type alias QuoteReply

	return marshalTyped(ContentQuoteReply, (*alias)(c))
}

// AtAll mentions every member of a group.
type AtAll struct{}

// ContentType implements the Content interface.
func (c *AtAll) ContentType() ContentType { return ContentAtAll }

// ContentString implements the Content interface.
func (c *AtAll) ContentString() string { return "@All" }

// MarshalJSON adds the type discriminator.
func (c *AtAll) MarshalJSON() ([]byte, error) {
	return marshalTyped(ContentAtAll, struct{}{})
}

// File references an attachment. ExpiryTime is reserved.
type File struct {
	URL              string `json:"url,omitempty"`
	Name             string `json:"name"`
	Extension        string `json:"extension"`
	Size             int64  `json:"size"`
	LastModifiedTime int64  `json:"last_modified_time"`
	ExpiryTime       *int64 `json:"expiry_time,omitempty"`
	URI              string `json:"uri,omitempty"`
	CloudType        *int   `json:"cloud_type,omitempty"`
	CloudID          string `json:"cloud_id,omitempty"`
}

// ContentType implements the Content interface.
func (c *File) ContentType() ContentType { return ContentFile }

// ContentString implements the Content interface.
func (c *File) ContentString() string { return "[File]" }

// MarshalJSON adds the type discriminator.
func (c *File) MarshalJSON() ([]byte, error) {
	type alias File

	return marshalTyped(ContentFile, (*alias)(c))
}

// Location shares a point on a map.
type Location struct {
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Name        string  `json:"name,omitempty"`
	Description string  `json:"description,omitempty"`
}

// ContentType implements the Content interface.
func (c *Location) ContentType() ContentType { return ContentLocation }

// ContentString implements the Content interface.
func (c *Location) ContentString() string { return "[Location]" + c.Name }

// MarshalJSON adds the type discriminator.
func (c *Location) MarshalJSON() ([]byte, error) {
	type alias Location

	return marshalTyped(ContentLocation, (*alias)(c))
}

// Contents is an ordered list of message elements.
type Contents []Content

// ContentString joins the string form of every element with a single space.
func (cs Contents) ContentString() string {
	parts := make([]string, 0, len(cs))
	for _, c := range cs {
		parts = append(parts, c.ContentString())
	}

	return strings.Join(parts, " ")
}

// UnmarshalJSON implements json.Unmarshaler for Contents.
// Each element is decoded according to its "type" discriminator.
func (cs *Contents) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := jsoncodec.Unmarshal(data, &raws); err != nil {
		return fmt.Errorf("contents: %w", err)
	}

	out := make(Contents, 0, len(raws))

	for i, raw := range raws {
		c, err := parseContent(raw)
		if err != nil {
			return fmt.Errorf("contents[%d]: %w", i, err)
		}

		out = append(out, c)
	}

	*cs = out

	return nil
}

func parseContent(data []byte) (Content, error) {
	var head struct {
		Type *ContentType `json:"type"`
	}

	if err := jsoncodec.Unmarshal(data, &head); err != nil {
		return nil, err
	}

	if head.Type == nil {
		return nil, fmt.Errorf("missing 'type' field")
	}

	var c Content

	switch *head.Type {
	case ContentPlainText:
		c = &PlainText{}
	case ContentImage:
		c = &Image{}
	case ContentAt:
		c = &At{}
	case ContentAudio:
		c = &Audio{}
	case ContentQuoteReply:
		c = &QuoteReply{}
	case ContentAtAll:
		return &AtAll{}, nil
	case ContentFile:
		c = &File{}
	case ContentLocation:
		c = &Location{}
	default:
		return nil, fmt.Errorf("unknown content type %d", *head.Type)
	}

	if err := jsoncodec.Unmarshal(data, c); err != nil {
		return nil, err
	}

	return c, nil
}

// marshalTyped encodes v and prepends the "type" member to the resulting object.
func marshalTyped(t ContentType, v any) ([]byte, error) {
	body, err := jsoncodec.Marshal(v)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer

	buf.WriteString(`{"type":`)
	buf.WriteString(strconv.Itoa(int(t)))

	inner := bytes.TrimSpace(body)
	inner = bytes.TrimPrefix(inner, []byte("{"))
	inner = bytes.TrimSuffix(inner, []byte("}"))

	if len(bytes.TrimSpace(inner)) > 0 {
		buf.WriteByte(',')
		buf.Write(inner)
	}

	buf.WriteByte('}')

	return buf.Bytes(), nil
}
