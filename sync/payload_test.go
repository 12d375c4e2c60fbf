// go test github.com/millbrook-digital/xmplsync/sync -v
package sync

import (
	"strings"
	"testing"
	"time"
)

var testUser UserRecord

func init() {
	testUser = UserRecord{
		ID:          42,
		Email:       "a@b.com",
		Username:    "abell",
		FirstName:   "Ada",
		LastName:    "Bell",
		DisplayName: "Ada Bell",
		Website:     "https://ada.example",
		Registered:  time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
	}
}

func TestBuildRecipientValues_MapsUserAttributes(t *testing.T) {
	mappings := []FieldMapping{
		{APIField: "Email", Source: SourceEmail},
		{APIField: "Username", Source: SourceUsername},
		{APIField: "FirstName", Source: SourceFirstName},
		{APIField: "LastName", Source: SourceLastName},
		{APIField: "DisplayName", Source: SourceDisplayName},
		{APIField: "Website", Source: SourceWebsite},
		{APIField: "Registered", Source: SourceRegistered},
		{APIField: "UserID", Source: SourceUserID},
	}

	values := BuildRecipientValues(mappings, testUser)

	expected := map[string]string{
		"Email":       "a@b.com",
		"Username":    "abell",
		"FirstName":   "Ada",
		"LastName":    "Bell",
		"DisplayName": "Ada Bell",
		"Website":     "https://ada.example",
		"Registered":  "2026-03-14 09:26:53",
		"UserID":      "42",
	}
	if len(values) != len(expected) {
		t.Errorf("Expected %d values but have: %d", len(expected), len(values))
	}
	for field, want := range expected {
		if values[field] != want {
			t.Errorf("Expected %s: %s but have: %s", field, want, values[field])
		}
	}
}

func TestBuildRecipientValues_GeneratedGUIDIsFreshPerBuild(t *testing.T) {
	mappings := []FieldMapping{
		{APIField: "Email", Source: SourceEmail},
		{APIField: "TrackingID", Source: SourceGeneratedGUID},
	}

	first := BuildRecipientValues(mappings, testUser)
	second := BuildRecipientValues(mappings, testUser)

	if first["TrackingID"] == "" || second["TrackingID"] == "" {
		t.Fatal("Expected a generated GUID but have an empty value")
	}
	if first["TrackingID"] == second["TrackingID"] {
		t.Errorf("Expected fresh GUIDs per build but have the same value: %s", first["TrackingID"])
	}
	if first["Email"] != second["Email"] {
		t.Errorf("Expected identical mapped fields but have: %s and %s", first["Email"], second["Email"])
	}
	guid := first["TrackingID"]
	if len(guid) != 36 || strings.Count(guid, "-") != 4 {
		t.Errorf("Expected a 36 character hyphenated UUID but have: %s", guid)
	}
}

func TestBuildRecipientValues_GeneratedGUIDNotReusedAcrossMappings(t *testing.T) {
	mappings := []FieldMapping{
		{APIField: "FirstGUID", Source: SourceGeneratedGUID},
		{APIField: "SecondGUID", Source: SourceGeneratedGUID},
	}

	values := BuildRecipientValues(mappings, testUser)

	if values["FirstGUID"] == values["SecondGUID"] {
		t.Errorf("Expected distinct GUIDs per mapping but have the same value: %s", values["FirstGUID"])
	}
}

func TestBuildRecipientValues_LastMappingWins(t *testing.T) {
	mappings := []FieldMapping{
		{APIField: "Name", Source: SourceFirstName},
		{APIField: "Name", Source: SourceLastName},
	}

	values := BuildRecipientValues(mappings, testUser)

	if values["Name"] != "Bell" {
		t.Errorf("Expected last mapping to win with: Bell but have: %s", values["Name"])
	}
	if len(values) != 1 {
		t.Errorf("Expected 1 value but have: %d", len(values))
	}
}
