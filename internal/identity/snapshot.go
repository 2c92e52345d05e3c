// Signalbridge - Conversion Event Reconciliation and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalbridge

// Package identity fuses tracking evidence from independent trigger points
// into one canonical snapshot per user.
//
// Evidence arrives from up to four sources (browser pixel, payment webhook,
// bot session, fallback sweep) with very different fidelity. The merge rule
// is quality-monotone: a snapshot that has seen a browser cookie never loses
// it to a later sighting that carries none, while campaign tags always
// propagate so a new campaign is never attributed to an old one.
package identity

import "time"

// Quality ranks how strong the evidence behind a snapshot is.
type Quality string

const (
	// QualityReal means at least one strong browser signal is present.
	QualityReal Quality = "real"

	// QualityFallback means only weak server-side evidence (IP, user
	// agent) backs the snapshot.
	QualityFallback Quality = "fallback"
)

// Snapshot is the canonical per-user tracking evidence. All fields are
// optional; the zero value is a valid empty snapshot.
type Snapshot struct {
	UserID string `json:"user_id"`

	// ClickID is the ad-click browser cookie (fbc). Strong signal.
	ClickID string `json:"click_id,omitempty"`

	// BrowserID is the browser-instance cookie (fbp). Strong signal.
	BrowserID string `json:"browser_id,omitempty"`

	ClientIP  string `json:"client_ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`

	UTMSource   string `json:"utm_source,omitempty"`
	UTMMedium   string `json:"utm_medium,omitempty"`
	UTMCampaign string `json:"utm_campaign,omitempty"`
	UTMTerm     string `json:"utm_term,omitempty"`
	UTMContent  string `json:"utm_content,omitempty"`

	// SourceURL is the page the user was last seen on.
	SourceURL string `json:"source_url,omitempty"`

	Quality   Quality   `json:"quality"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsZero reports whether the snapshot carries no evidence at all.
func (s Snapshot) IsZero() bool {
	return s.ClickID == "" && s.BrowserID == "" &&
		s.ClientIP == "" && s.UserAgent == "" &&
		!s.hasCampaign()
}

// HasStrongSignal reports whether a browser cookie is present.
func (s Snapshot) HasStrongSignal() bool {
	return s.ClickID != "" || s.BrowserID != ""
}

// computedQuality derives the quality tag from the evidence present.
func (s Snapshot) computedQuality() Quality {
	if s.HasStrongSignal() {
		return QualityReal
	}
	return QualityFallback
}

// hasCampaign reports whether any campaign tag is set.
func (s Snapshot) hasCampaign() bool {
	return s.UTMSource != "" || s.UTMMedium != "" || s.UTMCampaign != "" ||
		s.UTMTerm != "" || s.UTMContent != ""
}

// campaignDiffers reports whether the other snapshot carries campaign tags
// that differ from this one's.
func (s Snapshot) campaignDiffers(other Snapshot) bool {
	if !other.hasCampaign() {
		return false
	}
	return s.UTMSource != other.UTMSource ||
		s.UTMMedium != other.UTMMedium ||
		s.UTMCampaign != other.UTMCampaign ||
		s.UTMTerm != other.UTMTerm ||
		s.UTMContent != other.UTMContent
}

// Merge folds incoming evidence into base and returns the result. Pure and
// total: neither argument is mutated, and any pair of snapshots merges.
//
// Precedence rules:
//   - Strong fields (ClickID, BrowserID) are only replaced by non-empty
//     incoming values. A fallback-quality sighting can therefore never
//     downgrade a real-quality snapshot.
//   - Weak fields (ClientIP, UserAgent, SourceURL) take any non-empty
//     incoming value; the freshest sighting wins.
//   - Campaign tags propagate as a unit whenever the incoming tags are
//     present and differ: a new campaign always wins, but without touching
//     the cookies.
//
// Quality is recomputed from the merged fields, which makes the
// real-never-downgrades invariant structural rather than enforced.
func Merge(base, incoming Snapshot) Snapshot {
	out := base

	if out.UserID == "" {
		out.UserID = incoming.UserID
	}

	if incoming.ClickID != "" {
		out.ClickID = incoming.ClickID
	}
	if incoming.BrowserID != "" {
		out.BrowserID = incoming.BrowserID
	}

	if incoming.ClientIP != "" {
		out.ClientIP = incoming.ClientIP
	}
	if incoming.UserAgent != "" {
		out.UserAgent = incoming.UserAgent
	}
	if incoming.SourceURL != "" {
		out.SourceURL = incoming.SourceURL
	}

	if base.campaignDiffers(incoming) {
		out.UTMSource = incoming.UTMSource
		out.UTMMedium = incoming.UTMMedium
		out.UTMCampaign = incoming.UTMCampaign
		out.UTMTerm = incoming.UTMTerm
		out.UTMContent = incoming.UTMContent
	}

	out.Quality = out.computedQuality()

	if incoming.UpdatedAt.After(out.UpdatedAt) {
		out.UpdatedAt = incoming.UpdatedAt
	}

	return out
}

// Touch returns a copy of the snapshot with quality recomputed and the
// timestamp set. Used when evidence is recorded directly without a merge.
func (s Snapshot) Touch(now time.Time) Snapshot {
	s.Quality = s.computedQuality()
	s.UpdatedAt = now
	return s
}
