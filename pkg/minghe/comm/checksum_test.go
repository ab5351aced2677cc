package comm

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChecksumKnownVector(t *testing.T) {
	var sum Checksum
	sum.Write([]byte(":01rz6015"))
	require.Equal(t, byte('X'), sum.Char())
	require.Equal(t, byte('X'), ChecksumOf([]byte(":01rz6015")))
}

func TestChecksumReset(t *testing.T) {
	var sum Checksum
	require.Equal(t, byte('A'), sum.Char())
	sum.Write([]byte(":01ru"))
	require.NotEqual(t, byte('A'), sum.Char())
	sum.Reset()
	require.Equal(t, byte('A'), sum.Char())
}

func TestChecksumMatchesModulus(t *testing.T) {
	rnd := rand.New(rand.NewSource(26))
	for i := 0; i < 200; i++ {
		data := make([]byte, 1+rnd.Intn(32))
		rnd.Read(data)

		var total int
		for _, b := range data {
			total += int(b)
		}
		expect := byte('A' + total%26)

		var sum Checksum
		sum.Write(data)
		ch := sum.Char()
		require.Equalf(t, expect, ch, "data %v", data)
		require.True(t, ch >= 'A' && ch <= 'Z')

		sum.Reset()
		sum.Write(data)
		require.Equal(t, ch, sum.Char(), "same bytes after reset")
	}
}

func TestChecksumHighBytes(t *testing.T) {
	var sum Checksum
	for i := 0; i < 10; i++ {
		sum.Add(0xff)
	}
	require.Equal(t, byte('A'+(10*0xff)%26), sum.Char())
}
