// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package ioen

// ARINC 653 CRC-32 polynomial, init and final-XOR values. The lookup table
// is built once at package init rather than carried as a 1KB literal.
const (
	crc32Poly  uint32 = 0x04C11DB7
	crc32Init  uint32 = 0xFFFFFFFF
	crc32Final uint32 = 0xFFFFFFFF
)

var crc32Table [256]uint32

func init() {
	for i := 0; i < 256; i++ {
		crc := uint32(i) << 24
		for bit := 0; bit < 8; bit++ {
			if crc&0x80000000 != 0 {
				crc = (crc << 1) ^ crc32Poly
			} else {
				crc <<= 1
			}
		}
		crc32Table[i] = crc
	}
}

// CRC32 computes the ARINC 653 CRC-32 over data, starting from crc32Init and
// XOR-ing with crc32Final at the end.
func CRC32(data []byte) uint32 {
	crc := crc32Init
	for _, b := range data {
		idx := byte(crc>>24) ^ b
		crc = (crc << 8) ^ crc32Table[idx]
	}
	return crc ^ crc32Final
}

// CheckCRC reports whether the CRC recorded at crcOffset in msg matches the
// CRC of the protected region, gated by the functional status byte at
// crcFsbOffset: a CRC is only meaningful when that functional status reads
// A664 NO, so any other status reports the check as failed. crcOffset == 0
// means the message carries no CRC at all, in which case the check always
// passes.
func CheckCRC(msg []byte, crcFsbOffset, crcOffset uint32, protected []byte) bool {
	if crcOffset == 0 {
		return true
	}
	if A664FunctionalStatus(msg[crcFsbOffset]&0x03) != A664FSNo {
		return false
	}
	want := NTOH32(msg[crcOffset : crcOffset+4])
	return CRC32(protected) == want
}

// SetCRC stamps the CRC of protected into msg at crcOffset and forces the
// functional status byte at crcFsbOffset to A664 NO, matching the sender
// side of CheckCRC.
func SetCRC(msg []byte, crcFsbOffset, crcOffset uint32, protected []byte) {
	if crcOffset == 0 {
		return
	}
	msg[crcFsbOffset] &^= 0x03
	HTON32(msg[crcOffset:crcOffset+4], CRC32(protected))
}

// FreshnessCounter tracks the sliding window used to validate a message's
// 16-bit freshness counter (FC) field across cycles. fcPrev == 0 means "no
// counter observed yet" (startup), which always passes.
type FreshnessCounter struct {
	fcPrev uint32
}

// CheckFC validates fcReceived against the sliding window
// [fcPrev+1, fcPrev+1+ceil(invalidTime/refreshPeriod)], gated by the
// functional status byte reading A664 NO or FT (unlike CRC, FT is accepted
// here because a functional-test message still advances the counter).
// fcOffset == 0 means the message carries no freshness counter, which
// always passes without touching fcPrev.
//
// On acceptance fcPrev advances to the window's lower bound, not to
// fcReceived, so a single stale-but-in-window message cannot pull the
// counter backwards relative to a message that arrives later in the same
// window. On rejection fcPrev is still set to fcReceived to allow recovery
// on the very next message; a fcPrev == 0 rejection (startup) is treated as
// a pass.
func (f *FreshnessCounter) CheckFC(fs A664FunctionalStatus, fcReceived, fcOffset, invalidTime, refreshPeriod uint32) bool {
	if fcOffset == 0 {
		return true
	}
	if fs != A664FSNo && fs != A664FSFT {
		return true
	}

	windowLen := CeilingPos(float64(invalidTime) / float64(refreshPeriod))
	fcMin := f.fcPrev + 1
	fcMax := fcMin + windowLen

	inWindow := fcReceived >= fcMin && fcReceived <= fcMax
	ok := inWindow || f.fcPrev == 0

	if inWindow {
		f.fcPrev = fcMin
	} else {
		f.fcPrev = fcReceived
	}
	return ok
}

// SetFC increments the counter, forces the functional status byte at
// fcFsbOffset to A664 NO, and stamps the new value at fcOffset.
func (f *FreshnessCounter) SetFC(msg []byte, fcFsbOffset, fcOffset uint32) {
	if fcOffset == 0 {
		return
	}
	f.fcPrev++
	msg[fcFsbOffset] &^= 0x03
	HTON32(msg[fcOffset:fcOffset+4], f.fcPrev)
}

// Value returns the last accepted/seen freshness counter value.
func (f *FreshnessCounter) Value() uint32 { return f.fcPrev }
