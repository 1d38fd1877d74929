package engine

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"watchbill/internal/config"
	"watchbill/internal/domain"
)

// SourceLinkResolver turns a capture entry into zero or more resolved links
// for the export document. Resolvers are consulted in order; each contributes
// the link kinds it knows about.
type SourceLinkResolver interface {
	Resolve(entry domain.HandoverItem, exportType string, now time.Time) []domain.ItemLink
}

// DefaultResolvers returns the standard resolver chain: entity pages, stored
// email links, and signed document URLs.
func DefaultResolvers(cfg *config.Config) []SourceLinkResolver {
	return []SourceLinkResolver{
		entityResolver{base: cfg.Links.BaseURL},
		emailResolver{},
		documentResolver{
			base:   cfg.Links.BaseURL,
			secret: cfg.Links.SigningSecret,
			ttl:    cfg.DocumentTTL,
		},
	}
}

// entityResolver builds deterministic in-app links for entries tied to a
// tracked entity (equipment, task, work order).
type entityResolver struct {
	base string
}

func (r entityResolver) Resolve(entry domain.HandoverItem, _ string, _ time.Time) []domain.ItemLink {
	if entry.EntityID == nil || *entry.EntityID == "" {
		return nil
	}
	if entry.EntityType == "" || entry.EntityType == "email" || entry.EntityType == "document" {
		return nil
	}
	u := fmt.Sprintf("%s/yachts/%s/%s/%s",
		strings.TrimRight(r.base, "/"), entry.YachtID,
		url.PathEscape(entry.EntityType), url.PathEscape(*entry.EntityID))
	return []domain.ItemLink{{
		Kind:  "entity",
		Label: entry.EntityType,
		URL:   u,
	}}
}

// emailResolver passes through the opaque web link stored at capture time.
// Email links are never reconstructed from parts; the stored value is the
// source of truth.
type emailResolver struct{}

func (emailResolver) Resolve(entry domain.HandoverItem, _ string, _ time.Time) []domain.ItemLink {
	if entry.EntityType != "email" || entry.WebLink == nil || *entry.WebLink == "" {
		return nil
	}
	return []domain.ItemLink{{
		Kind:  "email",
		Label: "Email thread",
		URL:   *entry.WebLink,
	}}
}

// documentResolver issues HMAC-signed download URLs with an expiry, so the
// rendered artifact can link to documents without embedding credentials.
type documentResolver struct {
	base   string
	secret string
	ttl    func(exportType string) time.Duration
}

func (r documentResolver) Resolve(entry domain.HandoverItem, exportType string, now time.Time) []domain.ItemLink {
	if entry.EntityType != "document" || entry.EntityID == nil || *entry.EntityID == "" {
		return nil
	}
	exp := now.Add(r.ttl(exportType)).UTC()
	path := fmt.Sprintf("/yachts/%s/documents/%s/download", entry.YachtID, url.PathEscape(*entry.EntityID))
	sig := signPath(r.secret, path, exp.Unix())
	u := fmt.Sprintf("%s%s?exp=%d&sig=%s", strings.TrimRight(r.base, "/"), path, exp.Unix(), sig)
	return []domain.ItemLink{{
		Kind:      "document",
		Label:     "Document",
		URL:       u,
		ExpiresAt: exp.Format(time.RFC3339),
	}}
}

func signPath(secret, path string, exp int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(path))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(strconv.FormatInt(exp, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignedPath checks an HMAC document URL signature and expiry.
func VerifySignedPath(secret, path string, exp int64, sig string, now time.Time) bool {
	if now.Unix() > exp {
		return false
	}
	want := signPath(secret, path, exp)
	return hmac.Equal([]byte(want), []byte(sig))
}

// resolveLinks runs the chain for one entry.
func resolveLinks(resolvers []SourceLinkResolver, entry domain.HandoverItem, exportType string, now time.Time) []domain.ItemLink {
	var links []domain.ItemLink
	for _, r := range resolvers {
		links = append(links, r.Resolve(entry, exportType, now)...)
	}
	return links
}
