package common

import "encoding/binary"

// CalculateChecksum computes the RFC 1071 Internet checksum of data: the
// 16-bit one's complement of the one's complement sum of its 16-bit words.
// An odd trailing byte is padded with zero.
//
// PDUs carry it in their trailer so a link can reject corrupted frames
// before they reach the engine.
func CalculateChecksum(data []byte) uint16 {
	var sum uint32
	length := len(data)

	for i := 0; i < length-1; i += 2 {
		sum += uint32(binary.BigEndian.Uint16(data[i : i+2]))
	}
	if length%2 == 1 {
		sum += uint32(data[length-1]) << 8
	}

	// Fold carries back into the low 16 bits
	for sum > 0xFFFF {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}

	return ^uint16(sum)
}

// VerifyChecksum reports whether data, including its embedded checksum
// field, sums to zero.
func VerifyChecksum(data []byte) bool {
	checksum := CalculateChecksum(data)
	return checksum == 0 || checksum == 0xFFFF
}

// PutChecksum stores the checksum of frame[:len(frame)-2] in the last two
// bytes of frame, in network byte order. The covered part must have an even
// length for the frame to verify with VerifyChecksum.
func PutChecksum(frame []byte) {
	n := len(frame) - 2
	binary.BigEndian.PutUint16(frame[n:], CalculateChecksum(frame[:n]))
}
