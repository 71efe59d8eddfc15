package guard

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSoftCensorMasksEmail(t *testing.T) {
	g := New()
	out, hits := g.SoftCensor("write to foo@bar.com please")
	assert.Equal(t, "write to "+EmailMask+" please", out)
	assert.Equal(t, 1, hits.PII)
}

func TestSoftCensorMasksPhone(t *testing.T) {
	g := New()
	out, hits := g.SoftCensor("call +7 999 123-45-67 tomorrow")
	assert.Equal(t, "call "+PhoneMask+" tomorrow", out)
	assert.Equal(t, 1, hits.PII)
}

func TestSoftCensorMasksProfanityKeepingFirstLetter(t *testing.T) {
	g := New(WithProfanity("blast"))
	out, hits := g.SoftCensor("what a Blast indeed")
	assert.Equal(t, "what a B*** indeed", out)
	assert.Equal(t, 1, hits.Profanity)
}

func TestSoftCensorIdempotent(t *testing.T) {
	g := New(WithProfanity("blast"))
	inputs := []string{
		"plain text without anything sensitive",
		"mail me at a.b+c@example.co.uk or on +1 (555) 010-2030, blast it",
		"blast blast a@b.io blast",
		"",
	}
	for _, in := range inputs {
		once, _ := g.SoftCensor(in)
		twice, hits := g.SoftCensor(once)
		assert.Equal(t, once, twice)
		assert.Zero(t, hits.PII+hits.Profanity, "second pass must find nothing in %q", once)
	}
}

func TestSoftCensorMixedContent(t *testing.T) {
	g := New(WithProfanity("blast"))
	out, hits := g.SoftCensor("blast, ping test@example.com or 8 999 123 45 67")
	assert.Contains(t, out, EmailMask)
	assert.Contains(t, out, PhoneMask)
	assert.Contains(t, out, "b***")
	assert.Equal(t, 2, hits.PII)
	assert.Equal(t, 1, hits.Profanity)
}

func TestSoftCensorLeavesRestUntouched(t *testing.T) {
	g := New()
	out, _ := g.SoftCensor("before foo@bar.com after")
	assert.Equal(t, "before "+EmailMask+" after", out)
}

func TestExtraRules(t *testing.T) {
	ssn := Rule{
		Name:    "ssn",
		Pattern: regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
		PII:     true,
		Replace: func(string) string { return "[ssn hidden]" },
	}
	g := New(WithExtraRules(ssn))
	out, _ := g.SoftCensor("ssn 123-45-6789 on file")
	assert.Equal(t, "ssn [ssn hidden] on file", out)
}

func TestHealthy(t *testing.T) {
	assert.NoError(t, New().Healthy())
	assert.Error(t, (&Guard{}).Healthy())
}
