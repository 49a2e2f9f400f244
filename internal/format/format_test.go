package format

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"savesync/internal/models"
)

func TestForName(t *testing.T) {
	for name, want := range map[string]Formatter{
		"json":        JSONFormatter{},
		"JSON":        JSONFormatter{},
		"json-pretty": JSONFormatter{Indent: true},
		"yaml":        YAMLFormatter{},
		" yml ":       YAMLFormatter{},
	} {
		got, err := ForName(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := ForName("xml")
	assert.Error(t, err)
}

func TestFormattersUseWireNames(t *testing.T) {
	record := models.SaveRecord{GameID: "celeste", Filename: "a.sav", FileSize: 3, UpdatedAt: 1700000000}

	var buf bytes.Buffer
	require.NoError(t, JSONFormatter{}.Write(&buf, record))
	assert.Equal(t, `{"game_id":"celeste","filename":"a.sav","filesize":3,"updated_at":1700000000}`+"\n", buf.String())

	buf.Reset()
	require.NoError(t, YAMLFormatter{}.Write(&buf, record))
	assert.Equal(t, "game_id: celeste\nfilename: a.sav\nfilesize: 3\nupdated_at: 1700000000\n", buf.String())
}
