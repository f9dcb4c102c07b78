package validation

import "testing"

func TestValidateSessionID(t *testing.T) {
	valid := []string{
		"550e8400-e29b-41d4-a716-446655440000",
		"my-session_01",
	}
	for _, id := range valid {
		if err := ValidateSessionID(id); err != nil {
			t.Errorf("expected %q to be valid, got %v", id, err)
		}
	}
	invalid := []string{"", "has/slash", "has space", "../traverse"}
	for _, id := range invalid {
		if err := ValidateSessionID(id); err == nil {
			t.Errorf("expected %q to be invalid", id)
		}
	}
}

func TestValidateArtifactFileName(t *testing.T) {
	valid := []string{"plot.png", "report.csv", "data_1.parquet"}
	for _, name := range valid {
		if err := ValidateArtifactFileName(name); err != nil {
			t.Errorf("expected %q to be valid, got %v", name, err)
		}
	}
	invalid := []string{"", "../secret", "a/b.png", "a\\b.png", "..", "x/../y"}
	for _, name := range invalid {
		if err := ValidateArtifactFileName(name); err == nil {
			t.Errorf("expected %q to be rejected", name)
		}
	}
}
