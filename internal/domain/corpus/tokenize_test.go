package corpus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"composite process name", `C:\Tools\Mimikatz.exe`, []string{"tools", "mimikatz.exe", "mimikatz", "exe"}},
		{"sub-technique", "T1003.001 LSASS", []string{"t1003.001", "t1003", "001", "lsass"}},
		{"stopwords and single letters", "the a dump of x", []string{"dump"}},
		{"trailing punctuation", "evil-domain.com.", []string{"evil-domain.com", "evil", "domain", "com"}},
		{"only punctuation", "!!! ... ---", nil},
		{"nfc", "cafe\u0301", []string{"caf\u00e9"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Tokenize(tt.in))
		})
	}
}

func TestUniqueTerms(t *testing.T) {
	assert.Equal(t, []string{"lsass", "dump"}, UniqueTerms("lsass dump LSASS dump"))
}
