package afdx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fuhuatek/ioen-go/clog"
	"github.com/fuhuatek/ioen-go/ioen"
)

type fakePort struct {
	queue [][]byte
	sent  [][]byte
}

func (f *fakePort) Name() string { return "fake" }

func (f *fakePort) Read() ([]byte, bool, error) {
	if len(f.queue) == 0 {
		return nil, false, nil
	}
	buf := f.queue[0]
	f.queue = f.queue[1:]
	return buf, true, nil
}

func (f *fakePort) Write(data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	f.sent = append(f.sent, cp)
	return nil
}

func testConfig() ioen.AfdxMessageInfo {
	return ioen.AfdxMessageInfo{
		MessageLength: 16,
		RefreshPeriod: 50,
		InvalidTime:   100,
		CrcFsbOffset:  8,
		CrcOffset:     10,
		FcFsbOffset:   8,
		FcOffset:      12,
	}
}

func TestInputMessageAcceptsValidFrame(t *testing.T) {
	cfg := testConfig()
	cfg.CrcOffset = 2 // keep CRC and FC fields disjoint in this fixture
	buf := make([]byte, cfg.MessageLength)
	buf[8] = byte(ioen.A664FSNo)
	ioen.HTON32(buf[12:16], 1)
	crc := ioen.CRC32(buf[:cfg.CrcOffset])
	ioen.HTON32(buf[2:6], crc)

	port := &fakePort{queue: [][]byte{buf}}
	log := clog.NewLogger("test")
	msg := NewInputMessage("TEST", port, cfg, log)

	_, accepted, err := msg.Read()
	require.NoError(t, err)
	assert.True(t, accepted)
}

func TestInputMessageRejectsBadCRC(t *testing.T) {
	cfg := testConfig()
	cfg.CrcOffset = 2
	buf := make([]byte, cfg.MessageLength)
	buf[8] = byte(ioen.A664FSNo)
	ioen.HTON32(buf[12:16], 1)
	ioen.HTON32(buf[2:6], 0xBAD)

	port := &fakePort{queue: [][]byte{buf}}
	log := clog.NewLogger("test")
	msg := NewInputMessage("TEST", port, cfg, log)

	_, accepted, err := msg.Read()
	require.NoError(t, err)
	assert.False(t, accepted)
}

func TestInputMessageNoDataEverReceivedNotAccepted(t *testing.T) {
	cfg := testConfig()
	port := &fakePort{}
	log := clog.NewLogger("test")
	msg := NewInputMessage("TEST", port, cfg, log)

	_, accepted, err := msg.Read()
	require.NoError(t, err)
	assert.False(t, accepted, "no data has ever arrived yet")
}

func TestOutputMessageStampsCRCAndFCBeforeSend(t *testing.T) {
	cfg := testConfig()
	cfg.CrcOffset = 2
	port := &fakePort{}
	out := NewOutputMessage("TEST", port, cfg)

	require.NoError(t, out.Send())
	require.Len(t, port.sent, 1)

	sent := port.sent[0]
	assert.Equal(t, byte(ioen.A664FSNo), sent[8]&0x03)
	assert.Equal(t, ioen.CRC32(sent[:cfg.CrcOffset]), ioen.NTOH32(sent[2:6]))
	assert.Equal(t, uint32(1), ioen.NTOH32(sent[12:16]), "first send increments FC to 1")
}
