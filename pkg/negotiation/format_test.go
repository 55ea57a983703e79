package negotiation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	pcmu = NewAudioFormat("PCMU", 8000, 1)
	pcma = NewAudioFormat("PCMA", 8000, 1)
	opus = NewAudioFormat("opus", 48000, 2)
	vp8  = NewVideoFormat("VP8", 90000)
	h264 = NewVideoFormat("H264", 90000)
)

func TestFormatMatches(t *testing.T) {
	t.Run("совпадение без учета payload type", func(t *testing.T) {
		assert.True(t, pcmu.WithPayloadType(0).Matches(pcmu))
	})

	t.Run("разные кодировки", func(t *testing.T) {
		assert.False(t, pcmu.Matches(pcma))
	})

	t.Run("регистр кодировки учитывается", func(t *testing.T) {
		assert.False(t, NewAudioFormat("opus", 48000, 2).Matches(NewAudioFormat("OPUS", 48000, 2)))
	})

	t.Run("разная частота", func(t *testing.T) {
		assert.False(t, NewAudioFormat("G722", 8000, 1).Matches(NewAudioFormat("G722", 16000, 1)))
	})

	t.Run("каналы", func(t *testing.T) {
		assert.False(t, NewAudioFormat("L16", 44100, 1).Matches(NewAudioFormat("L16", 44100, 2)))
		assert.True(t, NewAudioFormat("L16", 44100, ChannelsNotSpecified).Matches(NewAudioFormat("L16", 44100, 2)))
	})

	t.Run("разные типы медиа", func(t *testing.T) {
		audio := Format{MediaType: MediaTypeAudio, Encoding: "X", ClockRate: 90000, Channels: ChannelsNotSpecified}
		video := Format{MediaType: MediaTypeVideo, Encoding: "X", ClockRate: 90000, Channels: ChannelsNotSpecified}
		assert.False(t, audio.Matches(video))
	})
}

func TestIntersectFormats(t *testing.T) {
	remote := []Format{opus.WithPayloadType(111), pcma.WithPayloadType(8), pcmu.WithPayloadType(0)}
	local := []Format{pcmu, opus}

	got := IntersectFormats(remote, local)
	require.Len(t, got, 2)

	assert.Equal(t, "opus", got[0].Encoding, "порядок remote")
	assert.Equal(t, "PCMU", got[1].Encoding)
	assert.Equal(t, PayloadTypeUnassigned, got[0].PayloadType, "возвращаются локальные экземпляры")

	assert.Empty(t, IntersectFormats(nil, local))
	assert.Empty(t, IntersectFormats(remote, []Format{vp8}))
}

func TestSelectPrimaryFormat(t *testing.T) {
	remote := []Format{h264.WithPayloadType(97), vp8.WithPayloadType(96)}

	primary, ok := SelectPrimaryFormat(remote, []Format{vp8})
	require.True(t, ok)
	assert.Equal(t, "VP8", primary.Encoding)
	assert.Equal(t, 96, primary.PayloadType, "возвращается экземпляр remote")

	_, ok = SelectPrimaryFormat(remote, []Format{pcmu})
	assert.False(t, ok)
}
