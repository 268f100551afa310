package entities

import (
	"errors"
	"strings"
	"time"

	"esence/domain/core/valueobjects"
)

// Identity is the public half of the node's identity. The private key never
// leaves the keys directory and is not part of this record.
type Identity struct {
	DID       valueobjects.DID `json:"id"`
	Name      string           `json:"name"`
	Domain    string           `json:"domain"`
	PublicKey string           `json:"public_key"`
	CreatedAt time.Time        `json:"created_at"`
}

// W3C document vocabulary
const (
	didContextV1       = "https://www.w3.org/ns/did/v1"
	ed25519Context2020 = "https://w3id.org/security/suites/ed25519-2020/v1"
	ed25519KeyType     = "Ed25519VerificationKey2020"
	multibasePrefix    = "z"
	messagingService   = "EsenceMessaging"
)

// ErrNoPublicKey is returned for documents without a usable key
var ErrNoPublicKey = errors.New("identity document has no public key")

// VerificationMethod is one key entry of the document
type VerificationMethod struct {
	ID                 string `json:"id"`
	Type               string `json:"type"`
	Controller         string `json:"controller"`
	PublicKeyMultibase string `json:"publicKeyMultibase"`
}

// ServiceEndpoint advertises where the node accepts messages
type ServiceEndpoint struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	ServiceEndpoint string `json:"serviceEndpoint"`
}

// IdentityDocument is published at /.well-known/did.json
type IdentityDocument struct {
	Context            []string             `json:"@context"`
	ID                 string               `json:"id"`
	DID                string               `json:"did"`
	PublicKey          string               `json:"public_key"`
	VerificationMethod []VerificationMethod `json:"verificationMethod"`
	Authentication     []string             `json:"authentication,omitempty"`
	AssertionMethod    []string             `json:"assertionMethod,omitempty"`
	ServiceEndpoints   []ServiceEndpoint    `json:"service_endpoints"`
	Domains            []string             `json:"domains"`
	EssenceMaturity    float64              `json:"essence_maturity"`
	HumanReview        bool                 `json:"human_review"`
	Created            string               `json:"created,omitempty"`
}

// NewIdentityDocument renders the document for id. endpoint is the URL peers
// post messages to.
func NewIdentityDocument(id Identity, endpoint string, maturity float64, humanReview bool) IdentityDocument {
	did := id.DID.String()
	keyID := did + "#key-1"
	methods := []VerificationMethod{{
		ID:                 keyID,
		Type:               ed25519KeyType,
		Controller:         did,
		PublicKeyMultibase: multibasePrefix + id.PublicKey,
	}}
	services := []ServiceEndpoint{{
		ID:              did + "#messaging",
		Type:            messagingService,
		ServiceEndpoint: endpoint,
	}}
	return IdentityDocument{
		Context:            []string{didContextV1, ed25519Context2020},
		ID:                 did,
		DID:                did,
		PublicKey:          id.PublicKey,
		VerificationMethod: methods,
		Authentication:     []string{keyID},
		AssertionMethod:    []string{keyID},
		ServiceEndpoints:   services,
		Domains:            []string{id.Domain},
		EssenceMaturity:    maturity,
		HumanReview:        humanReview,
		Created:            id.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// Key returns the base64url public key, preferring the first multibase
// verification method over the flat field.
func (d IdentityDocument) Key() (string, error) {
	for _, vm := range d.VerificationMethod {
		if strings.HasPrefix(vm.PublicKeyMultibase, multibasePrefix) && len(vm.PublicKeyMultibase) > 1 {
			return vm.PublicKeyMultibase[1:], nil
		}
	}
	if d.PublicKey != "" {
		return d.PublicKey, nil
	}
	return "", ErrNoPublicKey
}

// Endpoint returns the advertised messaging endpoint, or fallback when the
// document does not advertise one.
func (d IdentityDocument) Endpoint(fallback string) string {
	for _, s := range d.ServiceEndpoints {
		if s.ServiceEndpoint != "" {
			return s.ServiceEndpoint
		}
	}
	return fallback
}

// Settings are the owner's switches persisted in settings.json
type Settings struct {
	Mood        valueobjects.Mood `json:"mood"`
	AutoApprove bool              `json:"auto_approve"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// DefaultSettings returns the settings of a fresh node
func DefaultSettings() Settings {
	return Settings{Mood: valueobjects.MoodModerate}
}
