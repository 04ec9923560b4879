package otp

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/authenticator/internal/domain/model"
)

// Seeds from RFC 4226 Appendix D and RFC 6238 Appendix B, base32-encoded.
const (
	seedSHA1   model.Secret = "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ"
	seedSHA256 model.Secret = "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQGEZA"
	seedSHA512 model.Secret = "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQGEZDGNA"
)

func totpParams(alg model.Algorithm, digits int) model.OTPParams {
	return model.OTPParams{Method: model.MethodTOTP, Algorithm: alg, Digits: digits, Period: 30}
}

func TestCompute_RFC4226Vectors(t *testing.T) {
	want := []string{"755224", "287082", "359152", "969429", "338314", "254676", "287922", "162583", "399871", "520489"}

	for counter, pin := range want {
		t.Run(fmt.Sprintf("counter %d", counter), func(t *testing.T) {
			p := model.OTPParams{Method: model.MethodHOTP, Algorithm: model.AlgorithmSHA1, Digits: 6, Counter: uint64(counter)}

			res, err := Compute(seedSHA1, p, time.Unix(0, 0))
			require.NoError(t, err)
			assert.Equal(t, pin, res.Pin)
			assert.Equal(t, uint64(counter), res.Counter)
			assert.Equal(t, uint64(counter+1), res.NextCounter)
			assert.True(t, res.ValidUntil.IsZero(), "HOTP pins carry no expiry")
		})
	}
}

func TestCompute_RFC6238Vectors(t *testing.T) {
	tests := []struct {
		unix   int64
		secret model.Secret
		alg    model.Algorithm
		want   string
	}{
		{59, seedSHA1, model.AlgorithmSHA1, "94287082"},
		{59, seedSHA256, model.AlgorithmSHA256, "46119246"},
		{59, seedSHA512, model.AlgorithmSHA512, "90693936"},
		{1111111109, seedSHA1, model.AlgorithmSHA1, "07081804"},
		{1111111109, seedSHA256, model.AlgorithmSHA256, "68084774"},
		{1111111109, seedSHA512, model.AlgorithmSHA512, "25091201"},
		{1234567890, seedSHA1, model.AlgorithmSHA1, "89005924"},
		{1234567890, seedSHA256, model.AlgorithmSHA256, "91819424"},
		{1234567890, seedSHA512, model.AlgorithmSHA512, "93441116"},
		{2000000000, seedSHA1, model.AlgorithmSHA1, "69279037"},
		{2000000000, seedSHA256, model.AlgorithmSHA256, "90698825"},
		{2000000000, seedSHA512, model.AlgorithmSHA512, "38618901"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s at %d", tt.alg, tt.unix), func(t *testing.T) {
			res, err := Compute(tt.secret, totpParams(tt.alg, 8), time.Unix(tt.unix, 0))
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Pin)
		})
	}
}

func TestCompute_TOTPWindow(t *testing.T) {
	res, err := Compute(seedSHA1, totpParams(model.AlgorithmSHA1, 6), time.Unix(59, 0))
	require.NoError(t, err)

	assert.Equal(t, uint64(1), res.Counter)
	assert.Equal(t, time.Unix(60, 0), res.ValidUntil)
	assert.Equal(t, "287082", res.Pin, "6-digit TOTP at step 1 equals HOTP counter 1")
	assert.Equal(t, time.Second, res.Remaining(time.Unix(59, 0)))
	assert.Zero(t, res.Remaining(time.Unix(61, 0)))
}

func TestCompute_Deterministic(t *testing.T) {
	at := time.Unix(1700000000, 0)
	p := totpParams(model.AlgorithmSHA256, 6)

	first, err := Compute(seedSHA256, p, at)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		again, err := Compute(seedSHA256, p, at)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestCompute_AcceptsLowerCaseAndUnpadded(t *testing.T) {
	p := model.OTPParams{Method: model.MethodHOTP, Algorithm: model.AlgorithmSHA1, Digits: 6}

	res, err := Compute("gezdgnbvgy3tqojqgezdgnbvgy3tqojq", p, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "755224", res.Pin)
}

func TestCompute_Steam(t *testing.T) {
	p := model.OTPParams{Method: model.MethodSteam, Period: 30}

	res, err := Compute(seedSHA1, p, time.Unix(59, 0))
	require.NoError(t, err)
	assert.Equal(t, "PV9M4", res.Pin)
	assert.Len(t, res.Pin, SteamLength)
	assert.Equal(t, time.Unix(60, 0), res.ValidUntil)

	res, err = Compute(seedSHA1, model.OTPParams{Method: model.MethodSteam}, time.Unix(0, 0))
	require.NoError(t, err)
	assert.Equal(t, "GG5F5", res.Pin, "zero period falls back to the steam default")
}

func TestCompute_Errors(t *testing.T) {
	tests := []struct {
		name    string
		secret  model.Secret
		params  model.OTPParams
		wantErr error
	}{
		{"empty secret", "", totpParams(model.AlgorithmSHA1, 6), ErrInvalidSecret},
		{"non base32 secret", "not-base32!!", totpParams(model.AlgorithmSHA1, 6), ErrInvalidSecret},
		{"unknown digest", seedSHA1, totpParams("md4", 6), ErrUnsupportedDigest},
		{"seven digits", seedSHA1, totpParams(model.AlgorithmSHA1, 7), ErrInvalidDigits},
		{"zero period", seedSHA1, model.OTPParams{Method: model.MethodTOTP, Algorithm: model.AlgorithmSHA1, Digits: 6}, ErrInvalidPeriod},
		{"unknown method", seedSHA1, model.OTPParams{Method: "yubikey", Algorithm: model.AlgorithmSHA1, Digits: 6}, ErrUnsupportedMethod},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compute(tt.secret, tt.params, time.Unix(59, 0))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.NotContains(t, err.Error(), string(seedSHA1), "errors must not echo the secret")
		})
	}
}

func TestCompute_ExpiredTimesStillComputable(t *testing.T) {
	_, err := Compute(seedSHA1, totpParams(model.AlgorithmSHA1, 6), time.Unix(0, 0))
	require.NoError(t, err)

	_, err = Compute(seedSHA1, totpParams(model.AlgorithmSHA1, 6), time.Unix(-100, 0))
	require.NoError(t, err, "pre-epoch instants clamp to step zero")
}

func TestVerify(t *testing.T) {
	at := time.Unix(59, 0)
	p := totpParams(model.AlgorithmSHA1, 8)

	ok, err := Verify("94287082", seedSHA1, p, at, 0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Verify("94287082", seedSHA1, p, at.Add(30*time.Second), 1)
	require.NoError(t, err)
	assert.True(t, ok, "previous step accepted within skew")

	ok, err = Verify("94287082", seedSHA1, p, at.Add(90*time.Second), 1)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = Verify("123", seedSHA1, p, at, 1)
	require.NoError(t, err)
	assert.False(t, ok, "wrong length is a mismatch, not an error")

	hp := model.OTPParams{Method: model.MethodHOTP, Algorithm: model.AlgorithmSHA1, Digits: 6, Counter: 0}
	ok, err = Verify("969429", seedSHA1, hp, at, 3)
	require.NoError(t, err)
	assert.True(t, ok, "HOTP look-ahead finds counter 3")

	ok, err = Verify("PV9M4", seedSHA1, model.OTPParams{Method: model.MethodSteam}, at, 0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Verify("pv9m4", seedSHA1, model.OTPParams{Method: model.MethodSteam}, at, 0)
	require.NoError(t, err)
	assert.True(t, ok, "steam codes are case-insensitive")

	_, err = Verify("000000", "", p, at, 0)
	assert.ErrorIs(t, err, ErrInvalidSecret)
}

func TestNormalizeSecret(t *testing.T) {
	assert.Equal(t, model.Secret("JBSWY3DPEHPK3PXP"), NormalizeSecret(" jbsw y3dp-ehpk 3pxp\n"))
}

func TestGenerateSecret(t *testing.T) {
	s, err := GenerateSecret()
	require.NoError(t, err)

	key, err := DecodeSecret(s)
	require.NoError(t, err)
	assert.Len(t, key, secretSize)

	other, err := GenerateSecret()
	require.NoError(t, err)
	assert.NotEqual(t, s.Reveal(), other.Reveal())
}

func TestEncodeDecodeSecret(t *testing.T) {
	raw := []byte("12345678901234567890")
	assert.Equal(t, seedSHA1, EncodeSecret(raw))

	got, err := DecodeSecret(seedSHA1 + "====")
	require.NoError(t, err)
	assert.Equal(t, raw, got)
}
