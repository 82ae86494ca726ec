package decoder

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type request struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

func TestDecodeStrict(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    request
		wantErr bool
	}{
		{name: "Valid", body: `{"name":"a.txt","size":10}`, want: request{Name: "a.txt", Size: 10}},
		{name: "MissingFieldsAreZero", body: `{"name":"a.txt"}`, want: request{Name: "a.txt"}},
		{name: "TrailingWhitespace", body: "{\"size\":1}\n", want: request{Size: 1}},
		{name: "UnknownField", body: `{"name":"a.txt","owner":"me"}`, wantErr: true},
		{name: "WrongType", body: `{"size":"big"}`, wantErr: true},
		{name: "TrailingData", body: `{"size":1}{"size":2}`, wantErr: true},
		{name: "Empty", body: ``, wantErr: true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := DecodeStrict[request](strings.NewReader(test.body))
			if test.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			require.Equal(t, test.want, got)
		})
	}
}
