package api

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allsmog/zkcp-go/pkg/crypto/group"
)

func TestIntEncoding(t *testing.T) {
	huge, _ := new(big.Int).SetString("fffffffffffffffffffffffffffffffebaaedce6af48a03bbfd25e8cd0364141", 16)

	data, err := json.Marshal(VerifyRequest{AuthID: "a", S: NewInt(huge)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"auth_id":"a","s":"0xfffffffffffffffffffffffffffffffebaaedce6af48a03bbfd25e8cd0364141"}`, string(data))

	var req VerifyRequest
	require.NoError(t, json.Unmarshal(data, &req))
	assert.Equal(t, 0, req.S.Big().Cmp(huge))
}

func TestIntDecodingForms(t *testing.T) {
	cases := map[string]int64{
		`"0x17"`: 23,
		`"0X17"`: 23,
		`"17"`:   23,
		`"0"`:    0,
		`23`:     23,
		` 4 `:    4,
	}
	for input, want := range cases {
		var v Int
		require.NoError(t, json.Unmarshal([]byte(input), &v), input)
		assert.Equal(t, want, v.Big().Int64(), input)
	}
}

func TestIntRejectsMalformed(t *testing.T) {
	for _, input := range []string{`"0xzz"`, `""`, `"0x"`, `-5`, `"-0x5"`, `1.5`, `true`, `null`, `"+ff"`, `"0x+ff"`, `"0x-ff"`} {
		var v Int
		err := json.Unmarshal([]byte(input), &v)
		assert.ErrorIs(t, err, ErrInvalidInt, input)
	}
}

func TestMissingFieldStaysNil(t *testing.T) {
	var req RegisterRequest
	require.NoError(t, json.Unmarshal([]byte(`{"user":"alice","y1":"0x12"}`), &req))
	assert.Equal(t, int64(18), req.Y1.Big().Int64())
	assert.Nil(t, req.Y2)
	assert.Nil(t, req.Y2.Big())
}

func TestInitializeResponseRoundTrip(t *testing.T) {
	params, err := group.New(big.NewInt(23), big.NewInt(11), big.NewInt(4), big.NewInt(9))
	require.NoError(t, err)

	data, err := json.Marshal(NewInitializeResponse(params))
	require.NoError(t, err)
	assert.JSONEq(t, `{"group":"modp","modulus":"0x17","order":"0xb","first_generator":"0x4","second_generator":"0x9"}`, string(data))

	var resp InitializeResponse
	require.NoError(t, json.Unmarshal(data, &resp))
	assert.True(t, resp.Params().Equal(params))
}

func TestNewIntCopies(t *testing.T) {
	v := big.NewInt(7)
	i := NewInt(v)
	v.SetInt64(8)
	assert.Equal(t, int64(7), i.Big().Int64())
	assert.Nil(t, NewInt(nil))
	assert.Equal(t, "0x7", i.String())
}

func TestParseIntRejectsSigns(t *testing.T) {
	for _, in := range []string{"+ff", "-ff", "0x+ff", "0X-ff"} {
		_, err := ParseInt(in)
		assert.ErrorIs(t, err, ErrInvalidInt, in)
	}

	v, err := ParseInt("0xFF")
	require.NoError(t, err)
	assert.Equal(t, int64(255), v.Int64())
}
