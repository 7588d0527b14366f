package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeRequestOmitsAbsentData(t *testing.T) {
	line, err := EncodeRequest(NewRequest(ActionGetSystemInfo))
	require.NoError(t, err)
	assert.Equal(t, `{"Action":"get_system_info"}`, line)

	line, err = EncodeRequest(NewRequest(ActionExecuteCommand, ""))
	require.NoError(t, err)
	assert.Equal(t, `{"Action":"execute_command","Data":""}`, line)
}

func TestEncodeRequestRejectsEmptyAction(t *testing.T) {
	_, err := EncodeRequest(Request{})
	assert.ErrorIs(t, err, ErrBridgeProtocol)
}

func TestRequestSurvivesAwkwardCharacters(t *testing.T) {
	data := "echo \"a\\b\"\nls\t-l\r\x01"
	line, err := EncodeRequest(NewRequest(ActionExecuteCommand, data))
	require.NoError(t, err)
	assert.NotContains(t, line, "\n")
	assert.Contains(t, line, `\u0001`)

	req, err := DecodeRequest(line)
	require.NoError(t, err)
	assert.Equal(t, ActionExecuteCommand, req.Action)
	require.NotNil(t, req.Data)
	assert.Equal(t, data, *req.Data)
}

func TestDecodeResponseAcceptsPeerLayout(t *testing.T) {
	resp, err := DecodeResponse(` { "Error" : null , "Result":"disk info", "Success" : true } `)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "disk info", resp.ResultText())
	assert.Nil(t, resp.Error)
}

func TestDecodeResponseDefaults(t *testing.T) {
	resp, err := DecodeResponse(`{"Error":"boom","Elapsed":12.5}`)
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Nil(t, resp.Result)
	assert.Equal(t, "boom", resp.ErrorText())

	resp, err = DecodeResponse(`{}`)
	require.NoError(t, err)
	assert.False(t, resp.Success)
}

func TestDecodeResponseEscapes(t *testing.T) {
	resp, err := DecodeResponse(`{"Success":true,"Result":"<ok> \/ 😀 \"q\""}`)
	require.NoError(t, err)
	assert.Equal(t, "<ok> / \U0001F600 \"q\"", resp.ResultText())
}

func TestDecodeRejectsMalformedLines(t *testing.T) {
	for _, line := range []string{
		"",
		"disk info",
		`["Success",true]`,
		`{"Success":true`,
		`{"Success":"yes"}`,
		`{"Success":true,"Result":5}`,
		`{"Success":true}{}`,
		`{"Result":"unterminated}`,
		`{"Result":"bad \q escape"}`,
		`{"Success":true,"Result":{"text":"x"}}`,
		`{"Success":true,"Meta":{"pid":1}`,
		`{"Success":true,"Tags":["a}"}`,
	} {
		_, err := DecodeResponse(line)
		assert.ErrorIs(t, err, ErrBridgeProtocol, "line %q", line)
	}
}

func TestDecodeResponseDropsErrorOnSuccess(t *testing.T) {
	resp, err := DecodeResponse(`{"Success":true,"Result":"x","Error":"stale"}`)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "x", resp.ResultText())
	assert.Nil(t, resp.Error)
}

func TestDecodeResponseSkipsNestedExtras(t *testing.T) {
	for _, line := range []string{
		`{"Success":true,"Result":"disk info","Meta":{"pid":1}}`,
		`{"Success":true,"Result":"disk info","Tags":["a"]}`,
		`{"Meta":{"note":"a } and ] \" inside","list":[[1],{"k":[]}]},"Success":true,"Result":"disk info"}`,
	} {
		resp, err := DecodeResponse(line)
		require.NoError(t, err, "line %q", line)
		assert.True(t, resp.Success)
		assert.Equal(t, "disk info", resp.ResultText())
	}
}

func TestDecodeRequestNeedsAction(t *testing.T) {
	_, err := DecodeRequest(`{"Data":"ls"}`)
	assert.ErrorIs(t, err, ErrBridgeProtocol)

	req, err := DecodeRequest(`{"Action":"terminate","Data":null}`)
	require.NoError(t, err)
	assert.Equal(t, ActionTerminate, req.Action)
	assert.Nil(t, req.Data)
}

func TestEncodeResponseRoundTrip(t *testing.T) {
	line := EncodeResponse(Failed("no such file\nor directory"))
	assert.Equal(t, `{"Success":false,"Error":"no such file\nor directory"}`, line)

	resp, err := DecodeResponse(line)
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, "no such file\nor directory", resp.ErrorText())
}
