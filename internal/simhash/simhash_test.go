package simhash

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const baseline = `Software Engineer, Infrastructure. You will design, build and operate
the distributed systems that power our inference platform. Responsibilities include
owning services end to end, improving reliability, and mentoring engineers. Minimum
qualifications: five years of experience with Go or Rust, Kubernetes, and cloud
networking. Preferred qualifications: experience with large scale storage systems.`

func TestFingerprintDeterministic(t *testing.T) {
	t.Parallel()

	for _, content := range []string{baseline, "hello world", "a", "Hello, HELLO hello"} {
		require.Equal(t, Fingerprint(content), Fingerprint(content))
	}
}

func TestFingerprintEmptyContent(t *testing.T) {
	t.Parallel()

	require.Zero(t, Fingerprint(""))
	require.Zero(t, Fingerprint("  ,.;!? -- "))
}

func TestFingerprintCaseInsensitive(t *testing.T) {
	t.Parallel()

	require.Equal(t, Fingerprint("Senior Engineer"), Fingerprint("senior ENGINEER"))
}

func TestFingerprintNonLatinContent(t *testing.T) {
	t.Parallel()

	engineer := Fingerprint("ソフトウェアエンジニア募集。分散システムの経験が必要です。")
	pastry := Fingerprint("パティシエ募集。早朝勤務があります。")
	russian := Fingerprint("Инженер-программист, опыт работы с Go")

	require.NotZero(t, engineer)
	require.NotZero(t, pastry)
	require.NotZero(t, russian)
	require.NotEqual(t, engineer, pastry)
	require.False(t, IsSimilar(&engineer, pastry, DefaultThreshold))
	require.Equal(t, russian, Fingerprint("ИНЖЕНЕР-ПРОГРАММИСТ, опыт работы с go"))
}

func TestFingerprintLocality(t *testing.T) {
	t.Parallel()

	edited := baseline + " Apply today."
	unrelated := `Pastry chef wanted for a busy downtown bakery. Early mornings, laminated
doughs, croissants, seasonal tarts and wedding cakes. Must love butter and have a
food handler certificate. Weekend shifts required; free coffee and bread provided.`

	base := Fingerprint(baseline)
	near := Hamming(base, Fingerprint(edited))
	far := Hamming(base, Fingerprint(unrelated))
	require.Less(t, near, far)
}

func TestHamming(t *testing.T) {
	t.Parallel()

	require.Equal(t, 0, Hamming(0, 0))
	require.Equal(t, 64, Hamming(0, ^uint64(0)))
	require.Equal(t, 2, Hamming(0b1010, 0b0000))
}

func TestIsSimilarThreshold(t *testing.T) {
	t.Parallel()

	stored := uint64(0b0111)
	require.True(t, IsSimilar(&stored, 0b0000, 3))
	require.False(t, IsSimilar(&stored, 0b1000, 3))
	require.True(t, IsSimilar(&stored, 0b1000, 4))
	require.False(t, IsSimilar(nil, 0, DefaultThreshold))
	require.False(t, IsSimilar(nil, stored, 64))
}

func TestInt64RoundTrip(t *testing.T) {
	t.Parallel()

	fp := Fingerprint(baseline) | 1<<63
	require.Less(t, ToInt64(fp), int64(0))
	require.Equal(t, fp, FromInt64(ToInt64(fp)))
}
