package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskPhone(t *testing.T) {
	assert.Equal(t, "8********67", MaskPhone("89101234567"))
	assert.Equal(t, "***", MaskPhone("123"))
	assert.Equal(t, "", MaskPhone(""))
}

func TestMaskUserID(t *testing.T) {
	assert.Equal(t, "111***333", MaskUserID("111222333"))
	assert.Equal(t, "******", MaskUserID("123456"))
}

func TestMaskName(t *testing.T) {
	assert.Equal(t, "I****v I**n", MaskName("Ivanov Ivan"))
	assert.Equal(t, "Li", MaskName("Li"))
	assert.Equal(t, "", MaskName(""))
}
