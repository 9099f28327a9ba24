// Package models contains the structured results of API calls.
package models

import (
	"fmt"
	"path"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Metadata describes a file or folder as returned by the metadata, fileops
// and upload endpoints. Keys outside the fixed schema land in Extra.
type Metadata struct {
	Size        string      `mapstructure:"size" json:"size,omitempty"`
	Bytes       int64       `mapstructure:"bytes" json:"bytes"`
	Path        string      `mapstructure:"path" json:"path"`
	IsDir       bool        `mapstructure:"is_dir" json:"is_dir"`
	IsDeleted   bool        `mapstructure:"is_deleted" json:"is_deleted,omitempty"`
	Modified    *time.Time  `mapstructure:"modified" json:"modified,omitempty"`
	Hash        string      `mapstructure:"hash" json:"hash,omitempty"`
	Rev         string      `mapstructure:"rev" json:"rev,omitempty"`
	Revision    int64       `mapstructure:"revision" json:"revision,omitempty"`
	ThumbExists bool        `mapstructure:"thumb_exists" json:"thumb_exists"`
	Icon        string      `mapstructure:"icon" json:"icon,omitempty"`
	Root        string      `mapstructure:"root" json:"root,omitempty"`
	MimeType    string      `mapstructure:"mime_type" json:"mime_type,omitempty"`
	Contents    []*Metadata `mapstructure:"contents" json:"contents,omitempty"`

	// Listed is true when the response carried a directory listing.
	Listed bool `mapstructure:"-" json:"-"`

	Extra map[string]interface{} `mapstructure:",remain" json:"-"`
}

// Directory reports whether the entry is a folder.
func (m *Metadata) Directory() bool {
	return m != nil && m.IsDir
}

// Name returns the last element of the path.
func (m *Metadata) Name() string {
	return path.Base(m.Path)
}

// RelativePath returns the path without its leading separator.
func (m *Metadata) RelativePath() string {
	return strings.TrimLeft(m.Path, "/")
}

// Get returns a field by its wire name, looking in the fixed schema first and
// then in Extra.
func (m *Metadata) Get(key string) (interface{}, bool) {
	switch key {
	case "size":
		return m.Size, true
	case "bytes":
		return m.Bytes, true
	case "path":
		return m.Path, true
	case "is_dir":
		return m.IsDir, true
	case "is_deleted":
		return m.IsDeleted, true
	case "modified":
		return m.Modified, true
	case "hash":
		return m.Hash, true
	case "rev":
		return m.Rev, true
	case "revision":
		return m.Revision, true
	case "thumb_exists":
		return m.ThumbExists, true
	case "icon":
		return m.Icon, true
	case "root":
		return m.Root, true
	case "mime_type":
		return m.MimeType, true
	case "contents":
		return m.Contents, true
	}
	v, ok := m.Extra[key]
	return v, ok
}

// Account holds the account/info response.
type Account struct {
	UID          int64      `mapstructure:"uid" json:"uid"`
	DisplayName  string     `mapstructure:"display_name" json:"display_name"`
	Email        string     `mapstructure:"email" json:"email,omitempty"`
	Country      string     `mapstructure:"country" json:"country,omitempty"`
	ReferralLink string     `mapstructure:"referral_link" json:"referral_link,omitempty"`
	Quota        *QuotaInfo `mapstructure:"quota_info" json:"quota_info,omitempty"`

	Extra map[string]interface{} `mapstructure:",remain" json:"-"`
}

// QuotaInfo is the quota section of Account.
type QuotaInfo struct {
	Shared int64 `mapstructure:"shared" json:"shared"`
	Quota  int64 `mapstructure:"quota" json:"quota"`
	Normal int64 `mapstructure:"normal" json:"normal"`

	Extra map[string]interface{} `mapstructure:",remain" json:"-"`
}

// ParseMetadata decodes and normalizes a metadata JSON document.
func ParseMetadata(data []byte) (*Metadata, error) {
	obj, err := DecodeObject(data)
	if err != nil {
		return nil, err
	}
	return MetadataFromMap(obj)
}

// MetadataFromMap converts an already normalized attribute map.
func MetadataFromMap(obj map[string]interface{}) (*Metadata, error) {
	var m Metadata
	if err := decode(obj, &m); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	_, m.Listed = obj["contents"]
	return &m, nil
}

// ParseAccount decodes an account/info JSON document.
func ParseAccount(data []byte) (*Account, error) {
	obj, err := DecodeObject(data)
	if err != nil {
		return nil, err
	}
	var a Account
	if err := decode(obj, &a); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}
	return &a, nil
}

var timeType = reflect.TypeOf(time.Time{})

func decode(input interface{}, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       timeHook,
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

// timeHook handles timestamps that reach the decoder without going through
// Normalize.
func timeHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if to != timeType {
		return data, nil
	}
	if from == timeType {
		return data, nil
	}
	t, ok := ParseTime(data)
	if !ok || t == nil {
		return data, nil
	}
	return *t, nil
}
