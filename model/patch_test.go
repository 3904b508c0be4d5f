package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_Patch_Encode(t *testing.T) {
	p := Patch{
		{Op: ReplaceOperationType, Path: "/hello", Value: 1},
		{Op: AddOperationType, Path: "/publicProp", Value: []interface{}{"a", "b", "c"}},
		{Op: AddOperationType, Path: "/nil", Value: nil},
		{Op: RemoveOperationType, Path: "/gone", Value: "ignored"},
		{Op: MoveOperationType, From: "/a", Path: "/b"},
		{Op: AddOperationType, Path: "/html", Value: "<b>&</b>"},
	}

	data, err := p.Encode()
	require.NoError(t, err)
	require.Equal(t,
		`[{"op":"replace","path":"/hello","value":1},`+
			`{"op":"add","path":"/publicProp","value":["a","b","c"]},`+
			`{"op":"add","path":"/nil","value":null},`+
			`{"op":"remove","path":"/gone"},`+
			`{"op":"move","from":"/a","path":"/b"},`+
			`{"op":"add","path":"/html","value":"<b>&</b>"}]`,
		string(data),
	)
}

func Test_Patch_EncodeEmpty(t *testing.T) {
	var p Patch
	data, err := p.Encode()
	require.NoError(t, err)
	require.Equal(t, "[]", string(data))
}

func Test_Patch_Decode(t *testing.T) {
	p, err := DecodePatch([]byte(`[{"op": "replace", "path": "/val", "value": 9007199254740993}]`))
	require.NoError(t, err)
	require.Len(t, p, 1)
	require.Equal(t, ReplaceOperationType, p[0].Op)
	require.Equal(t, json.Number("9007199254740993"), p[0].Value)

	_, err = DecodePatch([]byte(`{"op": "replace", "path": "/", "value": "Custom message"}`))
	require.Error(t, err)

	_, err = DecodePatch([]byte(`[{"path": "/a"}]`))
	require.Error(t, err)
}

func Test_Document_Decode(t *testing.T) {
	doc, raw, err := DecodeDocument([]byte(`{"hello": 0, "list": [1, 2]}`))
	require.NoError(t, err)
	require.Equal(t, Document{"hello": float64(0), "list": []interface{}{float64(1), float64(2)}}, doc)
	require.Equal(t, json.Number("0"), raw.(map[string]interface{})["hello"])

	for _, data := range []string{`[1, 2]`, `null`, `"doc"`, `1`} {
		doc, raw, err := DecodeDocument([]byte(data))
		require.Error(t, err, data)
		require.Nil(t, doc, data)
		require.Nil(t, raw, data)
	}

	doc, _, err = DecodeDocument([]byte(`{}`))
	require.NoError(t, err)
	require.NotNil(t, doc)
}

func Test_RangeError(t *testing.T) {
	var err error = &RangeError{Value: float64(MaxSafeInteger + 1), Path: "/value", Direction: DirectionIncoming}
	require.Equal(t,
		"A number that is either bigger than 9007199254740991 or smaller than -9007199254740991 "+
			"has been encountered in a patch, value is: 9007199254740992, variable path is: /value",
		err.Error(),
	)

	var rangeErr *RangeError
	require.True(t, errors.As(fmt.Errorf("wrapped: %w", err), &rangeErr))
	require.Equal(t, DirectionIncoming, rangeErr.Direction)
}

func Test_Document_Encode(t *testing.T) {
	data, err := Document{"b": "<i>", "a": []interface{}{1, nil}}.Encode()
	require.NoError(t, err)
	require.Equal(t, `{"a":[1,null],"b":"<i>"}`, string(data))

	data, err = Document(nil).Encode()
	require.NoError(t, err)
	require.Equal(t, `{}`, string(data))
}
