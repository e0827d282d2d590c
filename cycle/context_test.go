package cycle

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fuhuatek/ioen-go/afdx"
	"github.com/fuhuatek/ioen-go/clog"
	"github.com/fuhuatek/ioen-go/ioen"
)

// minimalBlob builds a config blob with every table empty, used to exercise
// NewContext/CreatePorts bring-up without needing a real generated config.
func minimalBlob(t *testing.T) []byte {
	t.Helper()
	const words = 27
	buf := make([]byte, words*4+4) // header words + StringTableSize
	binary.LittleEndian.PutUint32(buf[0:4], ioen.ConfigMagic)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(buf))) // TotalSize
	binary.LittleEndian.PutUint32(buf[26*4:26*4+4], uint32(len(buf))) // StringTableStart
	return buf
}

type fakeAfdxProvider struct{}

func (fakeAfdxProvider) CreateSamplingPort(name string, length int, isSource bool) (afdx.Port, error) {
	return nil, nil
}

func TestNewContextParsesEmptyBlob(t *testing.T) {
	cfg := Config{ConfigBlobPath: "blob.bin"}
	require.NoError(t, cfg.Valid())

	ctx, err := NewContext(cfg, minimalBlob(t), clog.NewLogger("test"))
	require.NoError(t, err)
	assert.Equal(t, uint32(0), ctx.config.Header.AfdxInputMessageCount)
	assert.Empty(t, ctx.CanControls())
	assert.Empty(t, ctx.A429Labels())
}

func TestNewContextRejectsBadMagic(t *testing.T) {
	cfg := Config{ConfigBlobPath: "blob.bin"}
	require.NoError(t, cfg.Valid())

	bad := minimalBlob(t)
	binary.LittleEndian.PutUint32(bad[0:4], 0xDEADBEEF)
	_, err := NewContext(cfg, bad, clog.NewLogger("test"))
	assert.Error(t, err)
}

func TestCreatePortsAndStepOnEmptyConfig(t *testing.T) {
	cfg := Config{ConfigBlobPath: "blob.bin"}
	require.NoError(t, cfg.Valid())

	ctx, err := NewContext(cfg, minimalBlob(t), clog.NewLogger("test"))
	require.NoError(t, err)
	require.NoError(t, ctx.CreatePorts(Providers{Afdx: fakeAfdxProvider{}}))

	require.NoError(t, ctx.Step())
	assert.Equal(t, uint64(1), ctx.CycleCount())
}

// recordingPort is a trivial in-memory afdx.Port: Read always reports the
// buffer currently held as new data, Write records every call so a test can
// assert on what Step eventually sent.
type recordingPort struct {
	name    string
	data    []byte
	written [][]byte
}

func (p *recordingPort) Name() string { return p.name }
func (p *recordingPort) Read() ([]byte, bool, error) { return p.data, true, nil }
func (p *recordingPort) Write(data []byte) error {
	cp := append([]byte(nil), data...)
	p.written = append(p.written, cp)
	return nil
}

type recordingAfdxProvider struct {
	ports map[string]*recordingPort
}

func (r *recordingAfdxProvider) CreateSamplingPort(name string, length int, isSource bool) (afdx.Port, error) {
	p := &recordingPort{name: name, data: make([]byte, length)}
	r.ports[name] = p
	return p, nil
}

// sizes mirror ioen/config.go's own (unexported) table-entry byte layout;
// duplicated here only to lay out a hand-built blob, not as a public
// contract.
const (
	afdxMessageInfoSize        = 4 * 14
	inputDatasetHeaderSize     = 4 * 6
	validityConditionConfigSize = 4 * 11
	validityConfigSize         = 4 + 4 + 4*4 + 4*validityConditionConfigSize
	datasetSourceConfigSize    = 4 + 4 + validityConfigSize
	inputSignalConfigBlobSize  = 4 * 5
	datasetParamConfigSize     = inputSignalConfigBlobSize + 4 + 4
	outputDatasetConfigSize    = 4 * 5
	outputMappingConfigSize    = inputSignalConfigBlobSize + 4
	selectionSetConfigSize     = 4 * 6
)

// fullPipelineBlob builds a config blob with exactly one AFDX input message
// feeding one input dataset's single boolean parameter, routed through one
// output dataset into one AFDX output message -- enough to exercise every
// phase of Step (read, decode, select, encode, write) against a real
// decoded blob rather than an empty one.
func fullPipelineBlob(t *testing.T) []byte {
	t.Helper()

	const (
		headerBytes          = 27*4 + 4
		afdxInputMessageStart = headerBytes
		afdxOutputMessageStart = afdxInputMessageStart + afdxMessageInfoSize
		inputDatasetStart    = afdxOutputMessageStart + afdxMessageInfoSize
		sourcesStart         = inputDatasetStart + inputDatasetHeaderSize
		paramsStart          = sourcesStart + datasetSourceConfigSize
		outputDatasetStart   = paramsStart + datasetParamConfigSize
		mappingsStart        = outputDatasetStart + outputDatasetConfigSize
		selectionSetStart    = mappingsStart + outputMappingConfigSize
		stringTableStart     = selectionSetStart + selectionSetConfigSize
	)
	stringTable := "IN\x00OUT\x00"
	total := stringTableStart + len(stringTable)

	buf := make([]byte, total)
	w := func(off int, v uint32) { binary.LittleEndian.PutUint32(buf[off:off+4], v) }

	w(0, ioen.ConfigMagic)
	w(4, uint32(total))
	w(8, uint32(afdxInputMessageStart))
	w(12, 1) // AfdxInputMessageCount
	w(16, uint32(inputDatasetStart))
	w(20, 1) // AfdxInputDatasetCount
	w(32, uint32(afdxOutputMessageStart))
	w(36, 1) // AfdxOutputMessageCount
	w(40, uint32(outputDatasetStart))
	w(44, 1) // AfdxOutputDatasetCount
	w(96, uint32(selectionSetStart))
	w(100, selectionSetConfigSize)
	w(104, uint32(stringTableStart))
	w(108, 0) // StringTableSize

	// AfdxMessageInfo for the input message: 1-byte boolean payload, no
	// CRC/FC (offsets left at zero disable both checks).
	w(afdxInputMessageStart+0, 1)  // MessageID
	w(afdxInputMessageStart+4, 1)  // MessageLength
	w(afdxInputMessageStart+8, 1)  // QueueLength
	w(afdxInputMessageStart+12, 16) // RefreshPeriod
	w(afdxInputMessageStart+28, 0) // PortNameOffset -> "IN"

	// AfdxMessageInfo for the output message.
	w(afdxOutputMessageStart+0, 2)
	w(afdxOutputMessageStart+4, 1)
	w(afdxOutputMessageStart+8, 1)
	w(afdxOutputMessageStart+12, 16)
	w(afdxOutputMessageStart+28, 3) // PortNameOffset -> "OUT"

	// InputDatasetHeader: one source, one param, an 8-byte decoded buffer.
	w(inputDatasetStart+0, 1)
	w(inputDatasetStart+4, 1)
	w(inputDatasetStart+8, uint32(sourcesStart))
	w(inputDatasetStart+12, uint32(paramsStart))
	w(inputDatasetStart+16, 0)
	w(inputDatasetStart+20, 8)

	// DatasetSourceConfig: AFDX message 0, unconditionally usable.
	w(sourcesStart+0, 0)
	w(sourcesStart+4, uint32(ioen.TransportAFDX))

	// DatasetParamConfig: decode the boolean at byte 0 into the dataset
	// buffer at offset 0 (value) / 4 (validity byte).
	w(paramsStart+0, uint32(ioen.InA664Boolean))
	w(paramsStart+20, 0) // ParOffset
	w(paramsStart+24, 4) // ValOffset

	// OutputDatasetHeader: one mapping.
	w(outputDatasetStart+0, uint32(ioen.OutputDSA664))
	w(outputDatasetStart+4, 1)
	w(outputDatasetStart+8, uint32(mappingsStart))

	// OutputMappingConfig: copy the decoded boolean's low byte (offset 3 of
	// the big-endian int32 ConvertInput wrote) straight into the 1-byte
	// output message.
	w(mappingsStart+0, uint32(ioen.Out8bData))
	w(mappingsStart+4, 0) // OffByte
	w(mappingsStart+20, 3) // ParOffset

	// SelectionSetConfig: a single-source set needs no real arbitration.
	w(selectionSetStart+0, 1)
	w(selectionSetStart+4, uint32(ioen.CriteriaOne))
	w(selectionSetStart+8, uint32(ioen.SourceHealthNoLock))
	w(selectionSetStart+20, selectionSetConfigSize)

	copy(buf[stringTableStart:], stringTable)
	return buf
}

func TestStepRunsFullReadDecodeSelectEncodeWritePipeline(t *testing.T) {
	cfg := Config{ConfigBlobPath: "blob.bin"}
	require.NoError(t, cfg.Valid())

	ctx, err := NewContext(cfg, fullPipelineBlob(t), clog.NewLogger("test"))
	require.NoError(t, err)
	require.Len(t, ctx.Datasets(), 1)

	provider := &recordingAfdxProvider{ports: make(map[string]*recordingPort)}
	require.NoError(t, ctx.CreatePorts(Providers{Afdx: provider}))

	provider.ports["IN"].data[0] = 1 // boolean true

	require.NoError(t, ctx.Step())

	out := provider.ports["OUT"]
	require.NotEmpty(t, out.written)
	assert.Equal(t, byte(1), out.written[len(out.written)-1][0],
		"the selected source's decoded boolean should have been routed through to the AFDX output")
}
