package git

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestFingerprintExact pins the mandated rolling hash against hand-worked
// values so an accidental substitution (e.g. a library hash) is caught.
// For "a" (0x61): h = (0<<5 - 0) + 0x61 = 97.
// For "ab": h0 = 97; h1 = (97<<5 - 97) + 0x62 = 97*31 + 98 = 3105.
func TestFingerprintExact(t *testing.T) {
	assert.Equal(t, "61", fingerprint([]byte("a")))
	assert.Equal(t, "c21", fingerprint([]byte("ab")))
	assert.Equal(t, fingerprint([]byte("rate: 0.1\n")), fingerprint([]byte("rate: 0.1\n")))
}

func TestFingerprintDiffersOnContentChange(t *testing.T) {
	assert.NotEqual(t, fingerprint([]byte("rate: 0.1\n")), fingerprint([]byte("rate: 0.2\n")))
}

func TestClassifyStatusSynced(t *testing.T) {
	present := map[Environment]bool{Dev: true, Staging: true, Prod: true}
	content := map[Environment][]byte{
		Dev:     []byte("a"),
		Staging: []byte("a"),
		Prod:    []byte("a"),
	}
	assert.Equal(t, StatusSynced, classifyStatus(present, content))
}

func TestClassifyStatusDevOnly(t *testing.T) {
	present := map[Environment]bool{Dev: true, Staging: false, Prod: false}
	content := map[Environment][]byte{Dev: []byte("a")}
	assert.Equal(t, StatusDevOnly, classifyStatus(present, content))
}

func TestClassifyStatusDrifted(t *testing.T) {
	present := map[Environment]bool{Dev: true, Staging: true, Prod: false}
	content := map[Environment][]byte{Dev: []byte("a"), Staging: []byte("b")}
	assert.Equal(t, StatusDrifted, classifyStatus(present, content))
}

func TestAdjacentLabel(t *testing.T) {
	assert.Equal(t, LabelSame, adjacentLabel(true, true, []byte("x"), []byte("x")))
	assert.Equal(t, LabelDifferent, adjacentLabel(true, true, []byte("x"), []byte("y")))
	assert.Equal(t, LabelMissingTarget, adjacentLabel(true, false, []byte("x"), nil))
	assert.Equal(t, LabelMissingSource, adjacentLabel(false, true, nil, []byte("x")))
}

func TestClassifyHistoryKind(t *testing.T) {
	assert.Equal(t, HistoryMerge, classifyHistoryKind("merge: init"))
	assert.Equal(t, HistoryMerge, classifyHistoryKind("  merge pricing update"))
	assert.Equal(t, HistoryPromote, classifyHistoryKind("promote: pricing/default dev → staging [abc]"))
	assert.Equal(t, HistoryRollback, classifyHistoryKind("Rollback: pricing/default in dev to abcdef1 — oops"))
	assert.Equal(t, HistoryOther, classifyHistoryKind("unrelated commit"))
}
