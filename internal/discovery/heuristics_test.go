package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFoldASCII(t *testing.T) {
	assert.Equal(t, "societe generale", foldASCII("Société Générale"))
	assert.Equal(t, "acme corp", foldASCII("ACME Corp"))
}

func TestStripCorporateSuffixes(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"pvt ltd", "Acme Pvt Ltd", "acme"},
		{"private limited", "Acme Private Limited", "acme"},
		{"inc with punctuation", "Acme, Inc.", "acme"},
		{"technologies", "Blue Sky Technologies", "blue sky"},
		{"no suffix", "Blue Sky", "blue sky"},
		{"suffix word inside name kept", "Incline Fitness", "incline fitness"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stripCorporateSuffixes(tt.in))
		})
	}
}

func TestComposeCandidateHosts(t *testing.T) {
	hosts := composeCandidateHosts("Blue Sky Technologies Pvt Ltd", 0)

	assert.Contains(t, hosts, "bluesky.com")
	assert.Contains(t, hosts, "blue-sky.com")
	assert.Contains(t, hosts, "bluesky.io")
	assert.NotContains(t, hosts, "blueskytechnologies.com")

	// Compact form of a given TLD comes before its dashed form.
	assert.Less(t, indexOf(hosts, "bluesky.com"), indexOf(hosts, "blue-sky.com"))
}

func TestComposeCandidateHostsSingleWord(t *testing.T) {
	hosts := composeCandidateHosts("Acme Inc", 5)

	assert.Len(t, hosts, 5)
	for _, h := range hosts {
		assert.NotContains(t, h, "-")
	}
	assert.Equal(t, "acme.com", hosts[0])
}

func TestComposeCandidateHostsEmptyAfterStripping(t *testing.T) {
	assert.Empty(t, composeCandidateHosts("Ltd", 10))
	assert.Empty(t, composeCandidateHosts("   ", 10))
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}
