package main

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatSize(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
		{3 * 1024 * 1024 * 1024, "3.0 GB"},
		{2 * 1024 * 1024 * 1024 * 1024, "2.0 TB"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, formatSize(tt.bytes), "bytes=%d", tt.bytes)
	}
}

func TestFormatTime(t *testing.T) {
	assert.Equal(t, "-", formatTime(nil))

	thisYear := time.Date(time.Now().Year(), time.March, 5, 14, 30, 0, 0, time.UTC)
	assert.Equal(t, "Mar  5 14:30", formatTime(&thisYear))

	oldYear := time.Date(2019, time.March, 5, 14, 30, 0, 0, time.UTC)
	assert.Equal(t, "Mar  5  2019", formatTime(&oldYear))
}

func TestPrintTable_Alignment(t *testing.T) {
	var sb strings.Builder

	printTable(&sb, []string{"NAME", "SIZE"}, [][]string{
		{"short", "1"},
		{"much-longer-name", "22"},
	})

	lines := strings.Split(strings.TrimRight(sb.String(), "\n"), "\n")
	assert.Len(t, lines, 3)

	// All rows pad the first column to the widest cell.
	assert.True(t, strings.HasPrefix(lines[0], "NAME              SIZE"))
	assert.True(t, strings.HasPrefix(lines[1], "short             1"))
	assert.True(t, strings.HasPrefix(lines[2], "much-longer-name  22"))
}

func TestColumnWidths(t *testing.T) {
	widths := columnWidths([]string{"NAME", "SIZE"}, [][]string{
		{"a", "123456"},
		{"longer-name", "1"},
	})

	// Header and widest cell both contribute.
	assert.Equal(t, []int{11, 6}, widths)
}

func TestShortRef(t *testing.T) {
	assert.Equal(t, "-", shortRef(""))
	assert.Equal(t, "abc123", shortRef("abc123"))
	assert.Equal(t, "0123456789ab", shortRef("0123456789abcdef0123"))
}
