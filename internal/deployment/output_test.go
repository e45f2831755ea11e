package deployment

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func collect() (*lineWriter, *[]string) {
	var lines []string
	return newLineWriter(func(line string) { lines = append(lines, line) }), &lines
}

func TestLineWriter_SplitsLines(t *testing.T) {
	w, lines := collect()

	_, _ = w.Write([]byte("first\nsec"))
	_, _ = w.Write([]byte("ond\r\nthird"))
	assert.Equal(t, []string{"first", "second"}, *lines)

	w.Flush()
	assert.Equal(t, []string{"first", "second", "third"}, *lines)

	w.Flush()
	assert.Len(t, *lines, 3)
}

func TestLineWriter_BoundsLongLines(t *testing.T) {
	w, lines := collect()

	long := strings.Repeat("x", MaxLineBytes*2+10)
	n, err := w.Write([]byte(long + "\n"))
	assert.NoError(t, err)
	assert.Equal(t, len(long)+1, n)

	assert.Len(t, *lines, 3)
	assert.Len(t, (*lines)[0], MaxLineBytes)
	assert.Len(t, (*lines)[2], 10)
}
