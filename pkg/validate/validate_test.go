package validate

import (
	"strings"
	"testing"
)

type sample struct {
	Email string `json:"email" validate:"required,email"`
	At    string `json:"at" validate:"omitempty,timeofday"`
	Day   string `json:"day" validate:"omitempty,date"`
}

func TestStruct(t *testing.T) {
	if err := Struct(sample{Email: "a@b.co", At: "08:30", Day: "2024-03-01"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := Struct(sample{Email: "a@b.co", At: "08:30:15"}); err != nil {
		t.Fatalf("seconds must be accepted: %v", err)
	}

	err := Struct(sample{Email: "nope", At: "25:00", Day: "03/01/2024"})
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"field 'email' failed 'email'", "field 'at' failed 'timeofday'", "field 'day' failed 'date'"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in %q", want, err.Error())
		}
	}
}
