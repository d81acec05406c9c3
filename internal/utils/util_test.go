package utils

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrettyTime(t *testing.T) {
	assert.Equal(t, "0:00", PrettyTime(0))
	assert.Equal(t, "0:59", PrettyTime(59))
	assert.Equal(t, "3:05", PrettyTime(185))
	assert.Equal(t, "1:00:00", PrettyTime(3600))
	assert.Equal(t, "2:03:04", PrettyTime(7384))
}

func TestParseDurationString(t *testing.T) {
	assert.Equal(t, 90, ParseDurationString("90"))
	assert.Equal(t, 90, ParseDurationString("1m30s"))
	assert.Equal(t, 3723, ParseDurationString("1h2m3s"))
	assert.Equal(t, 3600, ParseDurationString("1h"))
	assert.Equal(t, 0, ParseDurationString("nonsense"))
	assert.Equal(t, 45, ParseDurationString(" 45 "))
}

func TestEscapeMd(t *testing.T) {
	assert.Equal(t, "a\\*b\\_c\\`d\\~e", EscapeMd("a*b_c`d~e"))
	assert.Equal(t, "plain", EscapeMd("plain"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "hell…", Truncate("hello world", 5))
	assert.Equal(t, "héll…", Truncate("héllo wörld", 5))
}

func TestShuffleSliceKeepsElements(t *testing.T) {
	in := []int{1, 2, 3, 4, 5, 6, 7, 8}
	cp := append([]int(nil), in...)
	ShuffleSlice(cp)
	sort.Ints(cp)
	assert.Equal(t, in, cp)
}
