package connector

import (
	"testing"

	"github.com/arzzra/sdp_negotiator/pkg/negotiation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPortPool(t *testing.T) {
	t.Run("sequential allocation", func(t *testing.T) {
		pool, err := NewPortPool(10000, 10010, 2, PortAllocationSequential)
		require.NoError(t, err)

		port1, err := pool.Allocate()
		require.NoError(t, err)
		assert.Equal(t, uint16(10000), port1)

		port2, err := pool.Allocate()
		require.NoError(t, err)
		assert.Equal(t, uint16(10002), port2)

		assert.Equal(t, 4, pool.Available())

		require.NoError(t, pool.Release(port2))
		assert.Equal(t, 5, pool.Available())

		// освобожденный порт возвращается первым
		port3, err := pool.Allocate()
		require.NoError(t, err)
		assert.Equal(t, uint16(10002), port3)
	})

	t.Run("random allocation", func(t *testing.T) {
		pool, err := NewPortPool(10000, 10020, 2, PortAllocationRandom)
		require.NoError(t, err)

		allocated := make(map[uint16]bool)
		for i := 0; i < 5; i++ {
			port, err := pool.Allocate()
			require.NoError(t, err)
			assert.False(t, allocated[port], "Порт %d уже был выделен", port)
			allocated[port] = true
			assert.True(t, port >= 10000 && port <= 10020)
			assert.Equal(t, uint16(0), port%2, "Порт должен быть четным")
		}
	})

	t.Run("exhaustion", func(t *testing.T) {
		pool, err := NewPortPool(10000, 10002, 2, PortAllocationSequential)
		require.NoError(t, err)

		_, err = pool.Allocate()
		require.NoError(t, err)
		_, err = pool.Allocate()
		require.NoError(t, err)

		_, err = pool.Allocate()
		assert.ErrorIs(t, err, ErrNoPorts)
	})

	t.Run("invalid release", func(t *testing.T) {
		pool, err := NewPortPool(10000, 10010, 2, PortAllocationSequential)
		require.NoError(t, err)

		assert.Error(t, pool.Release(9000), "вне диапазона")
		assert.Error(t, pool.Release(10004), "не выделен")
	})
}

func TestValidatePortRange(t *testing.T) {
	tests := []struct {
		name     string
		min, max uint16
		step     int
		wantErr  bool
	}{
		{"корректный", 10000, 20000, 2, false},
		{"min больше max", 20000, 10000, 2, true},
		{"нечетный min", 10001, 20000, 2, true},
		{"нечетный max", 10000, 20001, 2, true},
		{"нулевой шаг", 10000, 20000, 0, true},
		{"нечетный шаг", 10000, 20000, 3, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePortRange(tt.min, tt.max, tt.step)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("random")
	require.NoError(t, err)
	assert.Equal(t, PortAllocationRandom, s)

	s, err = ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, PortAllocationSequential, s)

	_, err = ParseStrategy("roundrobin")
	assert.Error(t, err)
}

func TestProvider(t *testing.T) {
	pool, err := NewPortPool(20000, 20010, 2, PortAllocationSequential)
	require.NoError(t, err)

	provider, err := NewProvider("10.0.0.5", pool)
	require.NoError(t, err)

	audio, err := provider.Connector(negotiation.MediaTypeAudio)
	require.NoError(t, err)
	assert.Equal(t, 20000, audio.DataAddr().Port)
	assert.Equal(t, 20001, audio.ControlAddr().Port)
	assert.Equal(t, "10.0.0.5", audio.DataAddr().IP.String())

	again, err := provider.Connector(negotiation.MediaTypeAudio)
	require.NoError(t, err)
	assert.Same(t, audio, again)

	video, err := provider.Connector(negotiation.MediaTypeVideo)
	require.NoError(t, err)
	assert.Equal(t, 20002, video.DataAddr().Port)

	assert.Equal(t, map[negotiation.MediaType]int{
		negotiation.MediaTypeAudio: 20000,
		negotiation.MediaTypeVideo: 20002,
	}, provider.Ports())
	assert.Equal(t, 4, pool.Available())

	require.NoError(t, provider.Release())
	assert.Equal(t, 6, pool.Available())
	assert.Empty(t, provider.Ports())

	t.Run("некорректный адрес", func(t *testing.T) {
		_, err := NewProvider("not-an-ip", pool)
		assert.Error(t, err)
	})

	t.Run("пул исчерпан", func(t *testing.T) {
		small, err := NewPortPool(30000, 30002, 2, PortAllocationSequential)
		require.NoError(t, err)
		p, err := NewProvider("127.0.0.1", small)
		require.NoError(t, err)

		_, err = p.Connector(negotiation.MediaTypeAudio)
		require.NoError(t, err)
		_, err = p.Connector(negotiation.MediaTypeVideo)
		require.NoError(t, err)

		other, err := NewProvider("127.0.0.1", small)
		require.NoError(t, err)
		_, err = other.Connector(negotiation.MediaTypeAudio)
		assert.ErrorIs(t, err, ErrNoPorts)
	})
}
