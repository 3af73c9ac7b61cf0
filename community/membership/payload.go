package membership

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	jsoniter "github.com/json-iterator/go"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/leeforge/community-processor/community/shared"
)

var validate = newValidator()

// payloadJSON matches object keys to struct tags exactly; encoding/json would
// also accept "USERID" for "userId".
var payloadJSON = jsoniter.Config{
	EscapeHTML:             true,
	ValidateJsonRawMessage: true,
	CaseSensitive:          true,
}.Froze()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// TraitPayload is the payload of a profile trait message.
type TraitPayload struct {
	UserID       int64      `json:"userId" validate:"required,min=1"`
	UserHandle   string     `json:"userHandle,omitempty"`
	TraitID      string     `json:"traitId" validate:"required"`
	CategoryName string     `json:"categoryName,omitempty"`
	CreatedBy    int64      `json:"createdBy" validate:"required,min=1"`
	CreatedAt    string     `json:"createdAt" validate:"required"`
	UpdatedBy    int64      `json:"updatedBy,omitempty" validate:"omitempty,min=1"`
	UpdatedAt    string     `json:"updatedAt,omitempty"`
	SSOProvider  string     `json:"ssoProvider,omitempty"`
	Traits       *TraitData `json:"traits" validate:"required"`
}

// TraitData holds the trait records of a payload.
type TraitData struct {
	TraitID string            `json:"traitId,omitempty"`
	Data    []*CommunityRecord `json:"data" validate:"required"`
}

// IdentityPayload is the payload of an identity creation message.
type IdentityPayload struct {
	UserID      int64  `json:"userId" validate:"required,min=1"`
	Handle      string `json:"handle,omitempty"`
	SSOProvider string `json:"ssoProvider,omitempty"`
}

// CommunityRecord is a JSON object of community flags kept in document
// order. A nil flag stands for JSON null.
type CommunityRecord = orderedmap.OrderedMap[string, *bool]

// BuildCommunityFlags flattens records into an ordered, de-duplicated list.
// Keys are lowercased, null flags are dropped, and the first occurrence of
// a key wins over any later one.
func BuildCommunityFlags(records []*CommunityRecord) []CommunityFlag {
	seen := make(map[string]struct{})
	flags := make([]CommunityFlag, 0)
	for _, record := range records {
		if record == nil {
			continue
		}
		for pair := record.Oldest(); pair != nil; pair = pair.Next() {
			if pair.Value == nil {
				continue
			}
			name := strings.ToLower(pair.Key)
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			flags = append(flags, CommunityFlag{Name: name, Desired: *pair.Value})
		}
	}
	return flags
}

// Event converts the payload into the reconciler's input.
func (p *TraitPayload) Event() *TraitEvent {
	var records []*CommunityRecord
	if p.Traits != nil {
		records = p.Traits.Data
	}
	return &TraitEvent{
		MemberID:    p.UserID,
		TraitKind:   strings.ToLower(p.TraitID),
		Communities: BuildCommunityFlags(records),
		SSOProvider: p.SSOProvider,
	}
}

// IsCommunities reports whether the payload carries community traits.
func (p *TraitPayload) IsCommunities() bool {
	return strings.EqualFold(p.TraitID, shared.TraitKindCommunities)
}

// Event converts the payload into an enrollment input.
func (p *IdentityPayload) Event() *IdentityEvent {
	return &IdentityEvent{
		SubjectID:   p.UserID,
		Handle:      p.Handle,
		SSOProvider: p.SSOProvider,
	}
}

// DecodeTraitPayload parses and validates a trait message payload.
func DecodeTraitPayload(raw []byte) (*TraitPayload, error) {
	var p TraitPayload
	if err := decodePayload(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// DecodeIdentityPayload parses and validates an identity message payload.
func DecodeIdentityPayload(raw []byte) (*IdentityPayload, error) {
	var p IdentityPayload
	if err := decodePayload(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func decodePayload(raw []byte, out any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return fmt.Errorf("%w: empty payload", shared.ErrInvalidEvent)
	}
	if err := payloadJSON.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidEvent, err)
	}
	if err := validate.Struct(out); err != nil {
		return fmt.Errorf("%w: %s", shared.ErrInvalidEvent, describeValidation(err))
	}
	return nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%q is required", fe.Field()))
		case "min":
			msgs = append(msgs, fmt.Sprintf("%q must be at least %s", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%q failed %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}
