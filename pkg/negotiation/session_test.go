package negotiation_test

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/arzzra/sdp_negotiator/pkg/negotiation"
	"github.com/arzzra/sdp_negotiator/pkg/sdp_codec"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testDevice struct {
	direction  negotiation.Direction
	formats    []negotiation.Format
	extensions []negotiation.RTPExtension
}

func (d *testDevice) Direction() negotiation.Direction               { return d.direction }
func (d *testDevice) SupportedFormats() []negotiation.Format          { return d.formats }
func (d *testDevice) SupportedExtensions() []negotiation.RTPExtension { return d.extensions }

type testDevices map[negotiation.MediaType]negotiation.Device

func (d testDevices) DefaultDevice(mediaType negotiation.MediaType) (negotiation.Device, bool) {
	dev, ok := d[mediaType]
	return dev, ok
}

type testPreferences map[negotiation.MediaType]negotiation.Direction

func (p testPreferences) DirectionPreference(mediaType negotiation.MediaType) negotiation.Direction {
	if d, ok := p[mediaType]; ok {
		return d
	}
	return negotiation.DirectionSendRecv
}

type testConnector struct {
	data, control *net.UDPAddr
}

func (c *testConnector) DataAddr() *net.UDPAddr    { return c.data }
func (c *testConnector) ControlAddr() *net.UDPAddr { return c.control }

type testConnectors struct {
	connectors map[negotiation.MediaType]*testConnector
}

func newTestConnectors() *testConnectors {
	ip := net.ParseIP("10.0.0.5")
	return &testConnectors{connectors: map[negotiation.MediaType]*testConnector{
		negotiation.MediaTypeAudio: {data: &net.UDPAddr{IP: ip, Port: 6000}, control: &net.UDPAddr{IP: ip, Port: 6001}},
		negotiation.MediaTypeVideo: {data: &net.UDPAddr{IP: ip, Port: 6002}, control: &net.UDPAddr{IP: ip, Port: 6003}},
	}}
}

func (c *testConnectors) Connector(mediaType negotiation.MediaType) (negotiation.Connector, error) {
	connector, ok := c.connectors[mediaType]
	if !ok {
		return nil, errors.New("нет connector")
	}
	return connector, nil
}

type testStream struct {
	params negotiation.StreamParams
}

func (s *testStream) MediaType() negotiation.MediaType { return s.params.MediaType }

type testStreams struct {
	mu     sync.Mutex
	active map[negotiation.MediaType]*testStream
	opened []negotiation.StreamParams
	closed []negotiation.MediaType
	failOn map[negotiation.MediaType]error
}

func newTestStreams() *testStreams {
	return &testStreams{
		active: make(map[negotiation.MediaType]*testStream),
		failOn: make(map[negotiation.MediaType]error),
	}
}

func (s *testStreams) OpenOrReplaceStream(_ context.Context, params negotiation.StreamParams) (negotiation.StreamHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failOn[params.MediaType]; err != nil {
		return nil, err
	}
	stream := &testStream{params: params}
	s.active[params.MediaType] = stream
	s.opened = append(s.opened, params)
	return stream, nil
}

func (s *testStreams) CloseStream(mediaType negotiation.MediaType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[mediaType]; ok {
		delete(s.active, mediaType)
		s.closed = append(s.closed, mediaType)
	}
}

type testControl struct {
	hash string
	err  error
}

func (c *testControl) HelloHash() (string, error) { return c.hash, c.err }

type testSecurity struct {
	created int
	control *testControl
}

func (f *testSecurity) CreateControl(negotiation.MediaType) (negotiation.SecurityControl, error) {
	f.created++
	return f.control, nil
}

type testEnv struct {
	devices     testDevices
	preferences testPreferences
	streams     *testStreams
	connectors  *testConnectors
	security    *testSecurity
	codec       *sdp_codec.Codec
}

func newTestEnv() *testEnv {
	return &testEnv{
		devices: testDevices{
			negotiation.MediaTypeAudio: &testDevice{
				direction: negotiation.DirectionSendRecv,
				formats: []negotiation.Format{
					negotiation.NewAudioFormat("PCMU", 8000, 1),
					negotiation.NewAudioFormat("opus", 48000, 2),
				},
				extensions: []negotiation.RTPExtension{
					{URI: "urn:ietf:params:rtp-hdrext:ssrc-audio-level", Direction: negotiation.DirectionSendRecv},
				},
			},
		},
		preferences: testPreferences{},
		streams:     newTestStreams(),
		connectors:  newTestConnectors(),
		security:    &testSecurity{control: &testControl{hash: "1.10 abcdef"}},
		codec:       sdp_codec.NewCodec(sdp_codec.DefaultCodecConfig()),
	}
}

func (e *testEnv) withVideo() *testEnv {
	e.devices[negotiation.MediaTypeVideo] = &testDevice{
		direction: negotiation.DirectionSendRecv,
		formats:   []negotiation.Format{negotiation.NewVideoFormat("VP8", 90000)},
	}
	return e
}

func (e *testEnv) newSession(t *testing.T, mutate ...func(*negotiation.Config)) *negotiation.Session {
	config := negotiation.DefaultConfig()
	config.SessionID = "test-session"
	config.LocalHost = "10.0.0.5"
	for _, m := range mutate {
		m(&config)
	}

	session, err := negotiation.NewSession(config, negotiation.Dependencies{
		Codec:       e.codec,
		Devices:     e.devices,
		Streams:     e.streams,
		Connectors:  e.connectors,
		Preferences: e.preferences,
		Security:    e.security,
	})
	require.NoError(t, err)
	return session
}

func sdpText(lines ...string) string {
	return strings.Join(lines, "\r\n") + "\r\n"
}

var sessionHeader = []string{
	"v=0",
	"o=alice 100 1 IN IP4 192.168.1.10",
	"s=-",
	"c=IN IP4 192.168.1.10",
	"t=0 0",
}

func remoteSDP(media ...string) string {
	return sdpText(append(append([]string(nil), sessionHeader...), media...)...)
}

func TestCreateOfferFirst(t *testing.T) {
	env := newTestEnv()
	env.preferences[negotiation.MediaTypeAudio] = negotiation.DirectionRecvOnly
	session := env.newSession(t)

	offer, err := session.CreateOffer(context.Background())
	require.NoError(t, err)

	local := session.LocalDescription()
	require.NotNil(t, local)
	media := local.Media()
	require.Len(t, media, 1)
	assert.Equal(t, negotiation.MediaTypeAudio, media[0].MediaType)
	assert.Equal(t, negotiation.DirectionRecvOnly, media[0].Direction)

	assert.Contains(t, offer, "m=audio 6000 RTP/AVP 0 96\r\n")
	assert.Contains(t, offer, "a=recvonly\r\n")
	assert.Equal(t, negotiation.StateNegotiating, session.State())
	assert.Empty(t, env.streams.opened, "offer не создает потоков")
}

func TestCreateOfferSkipsInactive(t *testing.T) {
	env := newTestEnv().withVideo()
	env.preferences[negotiation.MediaTypeVideo] = negotiation.DirectionInactive
	session := env.newSession(t)

	offer, err := session.CreateOffer(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, offer, "m=video")
	assert.Len(t, session.LocalDescription().Media(), 1)
}

func TestCreateOfferNoDevices(t *testing.T) {
	env := newTestEnv()
	env.devices = testDevices{}
	session := env.newSession(t)

	_, err := session.CreateOffer(context.Background())
	require.Error(t, err)
	assert.True(t, negotiation.IsError(err, negotiation.ErrorCodeGeneral))
	assert.Nil(t, session.LocalDescription())
	assert.Equal(t, negotiation.StateUninitialized, session.State())
}

func TestCreateOfferIdempotent(t *testing.T) {
	env := newTestEnv().withVideo()
	session := env.newSession(t)

	first, err := session.CreateOffer(context.Background())
	require.NoError(t, err)
	firstDesc := session.LocalDescription()

	second, err := session.CreateOffer(context.Background())
	require.NoError(t, err)
	secondDesc := session.LocalDescription()

	assert.Equal(t, firstDesc.SessionID(), secondDesc.SessionID())
	assert.Equal(t, firstDesc.SessionVersion()+1, secondDesc.SessionVersion())

	mediaSection := func(text string) string {
		return text[strings.Index(text, "m="):]
	}
	assert.Equal(t, mediaSection(first), mediaSection(second))
}

func TestCreateOfferOnHold(t *testing.T) {
	env := newTestEnv().withVideo()
	env.devices[negotiation.MediaTypeVideo].(*testDevice).direction = negotiation.DirectionRecvOnly
	session := env.newSession(t)

	session.SetLocallyOnHold(true)
	assert.True(t, session.IsLocallyOnHold())

	offer, err := session.CreateOffer(context.Background())
	require.NoError(t, err)

	media := session.LocalDescription().Media()
	require.Len(t, media, 1, "recvonly видео на удержании становится inactive и пропускается")
	assert.Equal(t, negotiation.DirectionSendOnly, media[0].Direction)
	assert.Contains(t, offer, "a=sendonly\r\n")

	session.SetLocallyOnHold(false)
	_, err = session.CreateOffer(context.Background())
	require.NoError(t, err)
	media = session.LocalDescription().Media()
	require.Len(t, media, 2)
	assert.Equal(t, negotiation.DirectionSendRecv, media[0].Direction)
	assert.Equal(t, negotiation.DirectionRecvOnly, media[1].Direction)
}

func TestProcessOffer(t *testing.T) {
	env := newTestEnv()
	session := env.newSession(t)

	offer := sdpText(
		"v=0",
		"o=alice 100 1 IN IP4 192.168.1.10",
		"s=-",
		"u=http://example.com/info",
		"c=IN IP4 192.168.1.10",
		"t=0 0",
		"m=audio 5004 RTP/AVP 111 0",
		"a=rtpmap:111 opus/48000/2",
		"a=extmap:4/sendonly urn:ietf:params:rtp-hdrext:ssrc-audio-level vad=on",
		"a=sendonly",
	)

	answer, err := session.ProcessOffer(context.Background(), offer)
	require.NoError(t, err)

	assert.Contains(t, answer, "m=audio 6000 RTP/AVP 111 0\r\n")
	assert.Contains(t, answer, "a=rtpmap:111 opus/48000/2\r\n", "payload type offer используется повторно")
	assert.Contains(t, answer, "a=extmap:4/recvonly urn:ietf:params:rtp-hdrext:ssrc-audio-level vad=on\r\n")
	assert.Contains(t, answer, "a=recvonly\r\n")

	require.Len(t, env.streams.opened, 1)
	params := env.streams.opened[0]
	assert.Equal(t, "opus", params.Format.Encoding)
	assert.Equal(t, 111, params.Format.PayloadType)
	assert.Equal(t, negotiation.DirectionRecvOnly, params.Direction)
	assert.Equal(t, negotiation.Target{Host: "192.168.1.10", DataPort: 5004, ControlPort: 5005}, params.Target)

	require.NotNil(t, session.CallInfo())
	assert.Equal(t, "http://example.com/info", session.CallInfo().String())
	assert.NotNil(t, session.RemoteDescription())
	assert.Len(t, session.ActiveStreams(), 1)
	assert.Equal(t, negotiation.StateStable, session.State())
}

func TestProcessOfferDeclinedLine(t *testing.T) {
	t.Run("нулевой порт при другой принятой линии", func(t *testing.T) {
		env := newTestEnv().withVideo()
		session := env.newSession(t)

		answer, err := session.ProcessOffer(context.Background(), remoteSDP(
			"m=audio 0 RTP/AVP 0",
			"m=video 5006 RTP/AVP 96",
			"a=rtpmap:96 VP8/90000",
		))
		require.NoError(t, err)

		assert.Contains(t, answer, "m=audio 0 RTP/AVP 0\r\n")
		assert.Contains(t, answer, "m=video 6002 RTP/AVP 96\r\n")

		media := session.LocalDescription().Media()
		require.Len(t, media, 2)
		assert.True(t, media[0].Declined)
		assert.Equal(t, negotiation.DirectionInactive, media[0].Direction)

		_, audioOpen := env.streams.active[negotiation.MediaTypeAudio]
		assert.False(t, audioOpen)
		_, videoOpen := env.streams.active[negotiation.MediaTypeVideo]
		assert.True(t, videoOpen)
	})

	t.Run("единственная линия отклонена", func(t *testing.T) {
		env := newTestEnv()
		session := env.newSession(t)

		_, err := session.ProcessOffer(context.Background(), remoteSDP("m=audio 0 RTP/AVP 0"))
		require.Error(t, err)
		assert.True(t, negotiation.IsError(err, negotiation.ErrorCodeIllegalArgument))
		assert.Nil(t, session.LocalDescription())
		assert.Empty(t, env.streams.opened)
	})

	t.Run("неизвестный тип медиа", func(t *testing.T) {
		env := newTestEnv()
		session := env.newSession(t)

		answer, err := session.ProcessOffer(context.Background(), remoteSDP(
			"m=audio 5004 RTP/AVP 0",
			"m=application 5008 UDP/BFCP *",
		))
		require.NoError(t, err)
		assert.Contains(t, answer, "m=application 0 UDP/BFCP *\r\n")
	})

	t.Run("нет общих форматов", func(t *testing.T) {
		env := newTestEnv().withVideo()
		session := env.newSession(t)

		answer, err := session.ProcessOffer(context.Background(), remoteSDP(
			"m=audio 5004 RTP/AVP 0",
			"m=video 5006 RTP/AVP 34",
		))
		require.NoError(t, err)
		assert.Contains(t, answer, "m=video 0 RTP/AVP 34\r\n")
	})

	t.Run("отклонение закрывает существующий поток", func(t *testing.T) {
		env := newTestEnv().withVideo()
		session := env.newSession(t)

		_, err := session.ProcessOffer(context.Background(), remoteSDP(
			"m=audio 5004 RTP/AVP 0",
			"m=video 5006 RTP/AVP 96",
			"a=rtpmap:96 VP8/90000",
		))
		require.NoError(t, err)
		require.Len(t, session.ActiveStreams(), 2)

		_, err = session.ProcessOffer(context.Background(), remoteSDP(
			"m=audio 5004 RTP/AVP 0",
			"m=video 0 RTP/AVP 96",
		))
		require.NoError(t, err)
		assert.Len(t, session.ActiveStreams(), 1)
		assert.Contains(t, env.streams.closed, negotiation.MediaTypeVideo)
	})
}

func TestProcessOfferSameMediaTypeLines(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
	}{
		{"отклоненная линия перед принятой", []string{"m=audio 0 RTP/AVP 0", "m=audio 5004 RTP/AVP 0"}},
		{"повторная линия после принятой", []string{"m=audio 5004 RTP/AVP 0", "m=audio 5006 RTP/AVP 0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			session := env.newSession(t)

			answer, err := session.ProcessOffer(context.Background(), remoteSDP(tt.lines...))
			require.NoError(t, err)

			assert.Contains(t, answer, "m=audio 0 RTP/AVP 0\r\n")
			assert.Contains(t, answer, "m=audio 6000 RTP/AVP 0\r\n")

			assert.Len(t, env.streams.opened, 1)
			assert.Empty(t, env.streams.closed, "принятый поток не закрывается")
			assert.Contains(t, session.ActiveStreams(), negotiation.MediaTypeAudio)
			assert.Contains(t, env.streams.active, negotiation.MediaTypeAudio)

			media := session.LocalDescription().Media()
			require.Len(t, media, 2)
			assert.Equal(t, 1, countAccepted(media))
		})
	}

	t.Run("существующий поток сохраняется", func(t *testing.T) {
		env := newTestEnv()
		session := env.newSession(t)

		_, err := session.ProcessOffer(context.Background(), remoteSDP("m=audio 5004 RTP/AVP 0"))
		require.NoError(t, err)

		_, err = session.ProcessOffer(context.Background(), remoteSDP(
			"m=audio 7004 RTP/AVP 0",
			"m=audio 0 RTP/AVP 0",
		))
		require.NoError(t, err)

		assert.Empty(t, env.streams.closed)
		require.Contains(t, env.streams.active, negotiation.MediaTypeAudio)
		assert.Equal(t, 7004, env.streams.active[negotiation.MediaTypeAudio].params.Target.DataPort)
	})
}

func countAccepted(media []negotiation.MediaDescriptor) int {
	accepted := 0
	for _, md := range media {
		if !md.Declined {
			accepted++
		}
	}
	return accepted
}

func TestProcessOfferSamePayloadTypeOnLines(t *testing.T) {
	env := newTestEnv().withVideo()
	session := env.newSession(t)

	answer, err := session.ProcessOffer(context.Background(), remoteSDP(
		"m=audio 5004 RTP/AVP 96",
		"a=rtpmap:96 opus/48000/2",
		"m=video 5006 RTP/AVP 96",
		"a=rtpmap:96 VP8/90000",
	))
	require.NoError(t, err)

	audioSection := answer[strings.Index(answer, "m=audio"):strings.Index(answer, "m=video")]
	videoSection := answer[strings.Index(answer, "m=video"):]
	assert.Contains(t, audioSection, "m=audio 6000 RTP/AVP 96\r\n")
	assert.Contains(t, audioSection, "a=rtpmap:96 opus/48000/2\r\n")
	assert.Contains(t, videoSection, "m=video 6002 RTP/AVP 96\r\n")
	assert.Contains(t, videoSection, "a=rtpmap:96 VP8/90000\r\n")

	audio := env.streams.active[negotiation.MediaTypeAudio].params.Format
	assert.Equal(t, "opus", audio.Encoding)
	assert.Equal(t, 96, audio.PayloadType, "номер потока совпадает с answer")

	t.Run("повторный offer сохраняет номера", func(t *testing.T) {
		offer, err := session.CreateOffer(context.Background())
		require.NoError(t, err)
		assert.Contains(t, offer, "m=audio 6000 RTP/AVP 0 96\r\n")
		assert.Contains(t, offer, "a=rtpmap:96 opus/48000/2\r\n")
		assert.Contains(t, offer, "m=video 6002 RTP/AVP 96\r\n")
		assert.Contains(t, offer, "a=rtpmap:96 VP8/90000\r\n")
	})
}

func TestProcessOfferFailureKeepsRegistry(t *testing.T) {
	env := newTestEnv()
	env.streams.failOn[negotiation.MediaTypeAudio] = errors.New("микрофон занят")
	session := env.newSession(t)

	_, err := session.ProcessOffer(context.Background(), remoteSDP(
		"m=audio 5004 RTP/AVP 111",
		"a=rtpmap:111 opus/48000/2",
		"a=extmap:7 urn:ietf:params:rtp-hdrext:ssrc-audio-level",
	))
	require.Error(t, err)

	_, ok := env.codec.Payloads().Lookup(111, negotiation.MediaTypeAudio)
	assert.False(t, ok, "соответствия отклоненного offer не сохраняются")
	_, ok = env.codec.Extensions().URIFor(negotiation.MediaTypeAudio, 7)
	assert.False(t, ok)

	delete(env.streams.failOn, negotiation.MediaTypeAudio)
	_, err = session.ProcessOffer(context.Background(), remoteSDP(
		"m=audio 5004 RTP/AVP 111",
		"a=rtpmap:111 opus/48000/2",
		"a=extmap:7 urn:ietf:params:rtp-hdrext:ssrc-audio-level",
	))
	require.NoError(t, err)

	_, ok = env.codec.Payloads().Lookup(111, negotiation.MediaTypeAudio)
	assert.True(t, ok)
	uri, ok := env.codec.Extensions().URIFor(negotiation.MediaTypeAudio, 7)
	require.True(t, ok)
	assert.Equal(t, "urn:ietf:params:rtp-hdrext:ssrc-audio-level", uri)
}

func TestProcessOfferUpdate(t *testing.T) {
	env := newTestEnv()
	session := env.newSession(t)
	offer := remoteSDP("m=audio 5004 RTP/AVP 0")

	_, err := session.ProcessOffer(context.Background(), offer)
	require.NoError(t, err)
	first := session.LocalDescription()

	_, err = session.ProcessOffer(context.Background(), offer)
	require.NoError(t, err)
	second := session.LocalDescription()

	assert.Equal(t, first.SessionID(), second.SessionID())
	assert.Equal(t, first.SessionVersion()+1, second.SessionVersion())
	assert.Len(t, env.streams.opened, 2, "поток заменяется")
	assert.Len(t, session.ActiveStreams(), 1)
}

func TestProcessOfferMalformed(t *testing.T) {
	env := newTestEnv()
	session := env.newSession(t)

	_, err := session.ProcessOffer(context.Background(), "мусор")
	require.Error(t, err)
	assert.True(t, negotiation.IsError(err, negotiation.ErrorCodeMalformedInput))
	assert.ErrorIs(t, err, sdp_codec.ErrMalformed)
	assert.Equal(t, negotiation.StateUninitialized, session.State())
}

func TestProcessOfferRollback(t *testing.T) {
	env := newTestEnv().withVideo()
	session := env.newSession(t)

	offer := remoteSDP(
		"m=audio 5004 RTP/AVP 0",
		"m=video 5006 RTP/AVP 96",
		"a=rtpmap:96 VP8/90000",
	)
	_, err := session.ProcessOffer(context.Background(), offer)
	require.NoError(t, err)
	local := session.LocalDescription()
	audioBefore := env.streams.active[negotiation.MediaTypeAudio].params

	env.streams.failOn[negotiation.MediaTypeVideo] = errors.New("камера занята")
	_, err = session.ProcessOffer(context.Background(), remoteSDP(
		"m=audio 7004 RTP/AVP 0",
		"m=video 7006 RTP/AVP 96",
		"a=rtpmap:96 VP8/90000",
	))
	require.Error(t, err)
	assert.True(t, negotiation.IsError(err, negotiation.ErrorCodeGeneral))

	assert.Same(t, local, session.LocalDescription())
	restored := env.streams.active[negotiation.MediaTypeAudio].params
	assert.Equal(t, audioBefore.Target, restored.Target, "аудио поток восстановлен")
	assert.Len(t, session.ActiveStreams(), 2)
}

func TestProcessOfferRollbackNewStream(t *testing.T) {
	env := newTestEnv().withVideo()
	env.streams.failOn[negotiation.MediaTypeVideo] = errors.New("камера занята")
	session := env.newSession(t)

	_, err := session.ProcessOffer(context.Background(), remoteSDP(
		"m=audio 5004 RTP/AVP 0",
		"m=video 5006 RTP/AVP 96",
		"a=rtpmap:96 VP8/90000",
	))
	require.Error(t, err)

	assert.Empty(t, session.ActiveStreams())
	assert.Empty(t, env.streams.active)
	assert.Equal(t, []negotiation.MediaType{negotiation.MediaTypeAudio}, env.streams.closed)
	assert.Nil(t, session.LocalDescription())
}

func TestProcessAnswer(t *testing.T) {
	env := newTestEnv()
	session := env.newSession(t)

	_, err := session.CreateOffer(context.Background())
	require.NoError(t, err)

	err = session.ProcessAnswer(context.Background(), remoteSDP(
		"m=audio 5004 RTP/AVP 0",
		"a=recvonly",
	))
	require.NoError(t, err)

	require.Len(t, env.streams.opened, 1)
	assert.Equal(t, "PCMU", env.streams.opened[0].Format.Encoding)
	assert.Equal(t, negotiation.DirectionSendOnly, env.streams.opened[0].Direction)
	assert.Equal(t, negotiation.StateStable, session.State())
	assert.NotNil(t, session.RemoteDescription())
}

func TestProcessAnswerRollback(t *testing.T) {
	env := newTestEnv().withVideo()
	session := env.newSession(t)

	_, err := session.CreateOffer(context.Background())
	require.NoError(t, err)
	require.NoError(t, session.ProcessAnswer(context.Background(), remoteSDP(
		"m=audio 5004 RTP/AVP 0",
		"m=video 5006 RTP/AVP 96",
		"a=rtpmap:96 VP8/90000",
	)))
	remote := session.RemoteDescription()
	audioBefore := env.streams.active[negotiation.MediaTypeAudio].params

	_, err = session.CreateOffer(context.Background())
	require.NoError(t, err)

	env.streams.failOn[negotiation.MediaTypeVideo] = errors.New("камера занята")
	err = session.ProcessAnswer(context.Background(), remoteSDP(
		"m=audio 7004 RTP/AVP 0",
		"m=video 7006 RTP/AVP 96",
		"a=rtpmap:96 VP8/90000",
	))
	require.Error(t, err)
	assert.True(t, negotiation.IsError(err, negotiation.ErrorCodeGeneral))

	assert.Same(t, remote, session.RemoteDescription())
	restored := env.streams.active[negotiation.MediaTypeAudio].params
	assert.Equal(t, audioBefore.Target, restored.Target, "аудио поток восстановлен")
	assert.Contains(t, env.streams.active, negotiation.MediaTypeVideo, "видео поток не тронут")
	assert.Len(t, session.ActiveStreams(), 2)
	assert.Equal(t, negotiation.StateNegotiating, session.State())
}

func TestProcessAnswerSameMediaTypeLines(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
	}{
		{"отклоненная линия перед принятой", []string{"m=audio 0 RTP/AVP 0", "m=audio 5004 RTP/AVP 0"}},
		{"повторная линия после принятой", []string{"m=audio 5004 RTP/AVP 0", "m=audio 5006 RTP/AVP 0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			session := env.newSession(t)

			_, err := session.CreateOffer(context.Background())
			require.NoError(t, err)
			require.NoError(t, session.ProcessAnswer(context.Background(), remoteSDP(tt.lines...)))

			assert.Len(t, env.streams.opened, 1)
			assert.Equal(t, 5004, env.streams.opened[0].Target.DataPort)
			assert.Empty(t, env.streams.closed)
			assert.Contains(t, session.ActiveStreams(), negotiation.MediaTypeAudio)
		})
	}
}

func TestProcessAnswerEmptyFormats(t *testing.T) {
	env := newTestEnv()
	session := env.newSession(t)

	_, err := session.CreateOffer(context.Background())
	require.NoError(t, err)
	require.NoError(t, session.ProcessAnswer(context.Background(), remoteSDP("m=audio 5004 RTP/AVP 0")))
	opened := len(env.streams.opened)

	_, err = session.CreateOffer(context.Background())
	require.NoError(t, err)
	err = session.ProcessAnswer(context.Background(), remoteSDP("m=audio 5004 RTP/AVP 98"))
	require.Error(t, err)
	assert.True(t, negotiation.IsError(err, negotiation.ErrorCodeIllegalArgument))

	assert.Len(t, env.streams.opened, opened, "поток не изменен")
	assert.Empty(t, env.streams.closed)
	assert.Len(t, session.ActiveStreams(), 1)
}

func TestProcessAnswerDeclined(t *testing.T) {
	env := newTestEnv()
	session := env.newSession(t)

	_, err := session.CreateOffer(context.Background())
	require.NoError(t, err)
	require.NoError(t, session.ProcessAnswer(context.Background(), remoteSDP("m=audio 0 RTP/AVP 0")))

	assert.Empty(t, env.streams.opened)
	assert.Empty(t, session.ActiveStreams())
	assert.Equal(t, negotiation.StateStable, session.State())
}

func TestProcessAnswerWithoutOffer(t *testing.T) {
	env := newTestEnv()
	session := env.newSession(t)

	err := session.ProcessAnswer(context.Background(), remoteSDP("m=audio 5004 RTP/AVP 0"))
	require.Error(t, err)
	assert.True(t, negotiation.IsError(err, negotiation.ErrorCodeGeneral))
	assert.Empty(t, env.streams.opened)
}

func TestProcessAnswerConcurrent(t *testing.T) {
	env := newTestEnv()
	session := env.newSession(t)

	_, err := session.CreateOffer(context.Background())
	require.NoError(t, err)

	answer := remoteSDP("m=audio 5004 RTP/AVP 0")
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, session.ProcessAnswer(context.Background(), answer))
		}()
	}
	wg.Wait()

	assert.Len(t, session.ActiveStreams(), 1)
}

func TestExtensionNegotiation(t *testing.T) {
	env := newTestEnv()
	env.devices[negotiation.MediaTypeAudio].(*testDevice).extensions = []negotiation.RTPExtension{
		{URI: "urn:X", Direction: negotiation.DirectionSendRecv},
	}
	session := env.newSession(t)

	_, err := session.ProcessOffer(context.Background(), remoteSDP(
		"m=audio 5004 RTP/AVP 0",
		"a=extmap:2/sendonly urn:X A",
	))
	require.NoError(t, err)

	require.Len(t, env.streams.opened, 1)
	assert.Equal(t, []negotiation.RTPExtension{
		{URI: "urn:X", Direction: negotiation.DirectionRecvOnly, Attributes: "A", ID: 2},
	}, env.streams.opened[0].Extensions)
}

func TestSecurityHash(t *testing.T) {
	t.Run("hash добавляется и control кешируется", func(t *testing.T) {
		env := newTestEnv()
		session := env.newSession(t, func(c *negotiation.Config) { c.SecurityHashEnabled = true })

		offer, err := session.CreateOffer(context.Background())
		require.NoError(t, err)
		assert.Contains(t, offer, "a=zrtp-hash:1.10 abcdef\r\n")

		_, err = session.CreateOffer(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, env.security.created)
	})

	t.Run("ошибка hash не прерывает offer", func(t *testing.T) {
		env := newTestEnv()
		env.security.control.err = errors.New("нет ключа")
		session := env.newSession(t, func(c *negotiation.Config) { c.SecurityHashEnabled = true })

		offer, err := session.CreateOffer(context.Background())
		require.NoError(t, err)
		assert.NotContains(t, offer, "zrtp-hash")
	})

	t.Run("hash выключен", func(t *testing.T) {
		env := newTestEnv()
		session := env.newSession(t)

		offer, err := session.CreateOffer(context.Background())
		require.NoError(t, err)
		assert.NotContains(t, offer, "zrtp-hash")
		assert.Zero(t, env.security.created)
	})
}

func TestSessionClose(t *testing.T) {
	env := newTestEnv()
	session := env.newSession(t)

	_, err := session.ProcessOffer(context.Background(), remoteSDP("m=audio 5004 RTP/AVP 0"))
	require.NoError(t, err)

	session.Close()
	assert.Empty(t, session.ActiveStreams())
	assert.Empty(t, env.streams.active)

	_, err = session.CreateOffer(context.Background())
	assert.True(t, negotiation.IsError(err, negotiation.ErrorCodeGeneral))
}

func TestNewSessionValidation(t *testing.T) {
	_, err := negotiation.NewSession(negotiation.DefaultConfig(), negotiation.Dependencies{})
	assert.Error(t, err)

	env := newTestEnv()
	config := negotiation.DefaultConfig()
	config.SecurityHashEnabled = true
	_, err = negotiation.NewSession(config, negotiation.Dependencies{
		Codec:      env.codec,
		Devices:    env.devices,
		Streams:    env.streams,
		Connectors: env.connectors,
	})
	assert.Error(t, err)

	session := env.newSession(t, func(c *negotiation.Config) { c.SessionID = "" })
	assert.NotEmpty(t, session.ID())
}

func TestMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics, err := negotiation.NewMetrics(registry)
	require.NoError(t, err)

	env := newTestEnv().withVideo()
	session := env.newSession(t, func(c *negotiation.Config) { c.Metrics = metrics })

	_, err = session.ProcessOffer(context.Background(), remoteSDP(
		"m=audio 5004 RTP/AVP 0",
		"m=video 0 RTP/AVP 96",
	))
	require.NoError(t, err)
	_, err = session.ProcessOffer(context.Background(), "мусор")
	require.Error(t, err)

	count, err := testutil.GatherAndCount(registry, "sdp_negotiation_operations_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	session.Close()

	_, err = negotiation.NewMetrics(registry)
	assert.Error(t, err, "повторная регистрация")
}
