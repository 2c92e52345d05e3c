// Signalbridge - Conversion Event Reconciliation and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalbridge

package identity

import (
	"testing"
	"time"
)

func TestMerge_StrongFieldsNeverDowngrade(t *testing.T) {
	base := Snapshot{
		UserID:    "u1",
		ClickID:   "fb.1.123.abc",
		BrowserID: "fb.1.456.def",
		Quality:   QualityReal,
	}
	incoming := Snapshot{
		UserID:   "u1",
		ClientIP: "203.0.113.7",
		Quality:  QualityFallback,
	}

	merged := Merge(base, incoming)

	if merged.ClickID != "fb.1.123.abc" {
		t.Errorf("ClickID = %q, want preserved click id", merged.ClickID)
	}
	if merged.BrowserID != "fb.1.456.def" {
		t.Errorf("BrowserID = %q, want preserved browser id", merged.BrowserID)
	}
	if merged.Quality != QualityReal {
		t.Errorf("Quality = %q, want %q (real never downgrades)", merged.Quality, QualityReal)
	}
	if merged.ClientIP != "203.0.113.7" {
		t.Errorf("ClientIP = %q, want fresh incoming IP", merged.ClientIP)
	}
}

func TestMerge_StrongFieldsReplacedByNonEmpty(t *testing.T) {
	base := Snapshot{ClickID: "fb.1.old.aaa"}
	incoming := Snapshot{ClickID: "fb.1.new.bbb", BrowserID: "fb.1.new.ccc"}

	merged := Merge(base, incoming)

	if merged.ClickID != "fb.1.new.bbb" {
		t.Errorf("ClickID = %q, want incoming value", merged.ClickID)
	}
	if merged.BrowserID != "fb.1.new.ccc" {
		t.Errorf("BrowserID = %q, want incoming value", merged.BrowserID)
	}
}

func TestMerge_WeakFieldsFreshestWins(t *testing.T) {
	base := Snapshot{ClientIP: "198.51.100.1", UserAgent: "old-agent", SourceURL: "https://old.example/p"}
	incoming := Snapshot{ClientIP: "198.51.100.2", UserAgent: "new-agent"}

	merged := Merge(base, incoming)

	if merged.ClientIP != "198.51.100.2" {
		t.Errorf("ClientIP = %q, want incoming value", merged.ClientIP)
	}
	if merged.UserAgent != "new-agent" {
		t.Errorf("UserAgent = %q, want incoming value", merged.UserAgent)
	}
	if merged.SourceURL != "https://old.example/p" {
		t.Errorf("SourceURL = %q, want base value kept when incoming is empty", merged.SourceURL)
	}
}

func TestMerge_CampaignTagsReplaceAsUnit(t *testing.T) {
	base := Snapshot{
		ClickID:     "fb.1.123.abc",
		UTMSource:   "google",
		UTMMedium:   "cpc",
		UTMCampaign: "spring",
		UTMTerm:     "shoes",
		UTMContent:  "ad-a",
	}
	incoming := Snapshot{
		UTMSource:   "facebook",
		UTMCampaign: "summer",
	}

	merged := Merge(base, incoming)

	// The whole tag set switches to the new campaign: stale fields from
	// the old campaign must not leak into the new attribution.
	if merged.UTMSource != "facebook" {
		t.Errorf("UTMSource = %q, want %q", merged.UTMSource, "facebook")
	}
	if merged.UTMCampaign != "summer" {
		t.Errorf("UTMCampaign = %q, want %q", merged.UTMCampaign, "summer")
	}
	if merged.UTMMedium != "" || merged.UTMTerm != "" || merged.UTMContent != "" {
		t.Errorf("old campaign fields leaked: medium=%q term=%q content=%q",
			merged.UTMMedium, merged.UTMTerm, merged.UTMContent)
	}
	// Cookies are untouched by a campaign switch.
	if merged.ClickID != "fb.1.123.abc" {
		t.Errorf("ClickID = %q, want preserved", merged.ClickID)
	}
}

func TestMerge_NoCampaignIncomingKeepsExisting(t *testing.T) {
	base := Snapshot{UTMSource: "google", UTMCampaign: "spring"}
	incoming := Snapshot{ClientIP: "203.0.113.7"}

	merged := Merge(base, incoming)

	if merged.UTMSource != "google" || merged.UTMCampaign != "spring" {
		t.Errorf("campaign tags lost on evidence without tags: source=%q campaign=%q",
			merged.UTMSource, merged.UTMCampaign)
	}
}

func TestMerge_IdenticalCampaignNoChurn(t *testing.T) {
	base := Snapshot{UTMSource: "google", UTMMedium: "cpc", UTMCampaign: "spring"}
	incoming := Snapshot{UTMSource: "google", UTMMedium: "cpc", UTMCampaign: "spring"}

	merged := Merge(base, incoming)

	if merged.UTMSource != "google" || merged.UTMMedium != "cpc" || merged.UTMCampaign != "spring" {
		t.Errorf("identical campaign merge changed tags: %+v", merged)
	}
}

func TestMerge_QualityRecomputedFromFields(t *testing.T) {
	tests := []struct {
		name     string
		base     Snapshot
		incoming Snapshot
		want     Quality
	}{
		{
			name:     "both empty stays fallback",
			base:     Snapshot{},
			incoming: Snapshot{ClientIP: "203.0.113.7"},
			want:     QualityFallback,
		},
		{
			name:     "incoming cookie upgrades",
			base:     Snapshot{ClientIP: "203.0.113.7", Quality: QualityFallback},
			incoming: Snapshot{BrowserID: "fb.1.1.a"},
			want:     QualityReal,
		},
		{
			name:     "base cookie survives weak incoming",
			base:     Snapshot{ClickID: "fb.1.1.a", Quality: QualityReal},
			incoming: Snapshot{UserAgent: "agent"},
			want:     QualityReal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Merge(tt.base, tt.incoming).Quality; got != tt.want {
				t.Errorf("Quality = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMerge_PureNoMutation(t *testing.T) {
	base := Snapshot{ClickID: "fb.1.1.a", UTMSource: "google"}
	incoming := Snapshot{UTMSource: "facebook"}
	baseCopy := base
	incomingCopy := incoming

	Merge(base, incoming)

	if base != baseCopy {
		t.Errorf("base mutated: %+v", base)
	}
	if incoming != incomingCopy {
		t.Errorf("incoming mutated: %+v", incoming)
	}
}

func TestMerge_Commutative_EvidenceUnion(t *testing.T) {
	// Disjoint evidence must converge regardless of arrival order.
	a := Snapshot{ClickID: "fb.1.1.a"}
	b := Snapshot{ClientIP: "203.0.113.7", UserAgent: "agent"}

	ab := Merge(a, b)
	ba := Merge(b, a)

	if ab.ClickID != ba.ClickID || ab.ClientIP != ba.ClientIP || ab.UserAgent != ba.UserAgent {
		t.Errorf("merge order changed evidence union: ab=%+v ba=%+v", ab, ba)
	}
	if ab.Quality != QualityReal || ba.Quality != QualityReal {
		t.Errorf("union quality: ab=%q ba=%q, want both real", ab.Quality, ba.Quality)
	}
}

func TestMerge_UpdatedAtKeepsLatest(t *testing.T) {
	earlier := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	later := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	merged := Merge(Snapshot{UpdatedAt: later}, Snapshot{UpdatedAt: earlier})
	if !merged.UpdatedAt.Equal(later) {
		t.Errorf("UpdatedAt = %v, want later timestamp kept", merged.UpdatedAt)
	}

	merged = Merge(Snapshot{UpdatedAt: earlier}, Snapshot{UpdatedAt: later})
	if !merged.UpdatedAt.Equal(later) {
		t.Errorf("UpdatedAt = %v, want later incoming timestamp", merged.UpdatedAt)
	}
}

func TestSnapshot_IsZero(t *testing.T) {
	if !(Snapshot{UserID: "u1", Quality: QualityFallback}).IsZero() {
		t.Error("snapshot with only user id should be zero evidence")
	}
	if (Snapshot{ClientIP: "203.0.113.7"}).IsZero() {
		t.Error("snapshot with client IP should not be zero evidence")
	}
	if (Snapshot{UTMSource: "google"}).IsZero() {
		t.Error("snapshot with campaign tag should not be zero evidence")
	}
}

func TestSnapshot_Touch(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	s := Snapshot{ClickID: "fb.1.1.a"}.Touch(now)
	if s.Quality != QualityReal {
		t.Errorf("Quality = %q, want real with cookie present", s.Quality)
	}
	if !s.UpdatedAt.Equal(now) {
		t.Errorf("UpdatedAt = %v, want %v", s.UpdatedAt, now)
	}

	s = Snapshot{ClientIP: "203.0.113.7"}.Touch(now)
	if s.Quality != QualityFallback {
		t.Errorf("Quality = %q, want fallback without cookies", s.Quality)
	}
}
