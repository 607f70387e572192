package catalog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateCode(t *testing.T) {
	cases := []struct {
		name string
		id   int64
		want string
	}{
		{"Đèn LED âm trần", 7, "DL-007"},
		{"ống nhựa", 12, "ON-012"},
		{"Cable", 3, "C-003"},
		{"  dây   điện  ", 1234, "DD-1234"},
		{"123 456", 5, "SP-005"},
		{"", 9, "SP-009"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, GenerateCode(tc.name, tc.id))
		})
	}
}

func TestInitialsOnlyLooksAtFirstTwoWords(t *testing.T) {
	require.Equal(t, "B", Initials("2x bóng xoay"))
	require.Equal(t, "P", Initials("3 pha Đèn LED"))
	require.Equal(t, "SP", Initials("12 34 Cáp"))
	require.Equal(t, "DC", Initials("dây cáp điện"))
}
