package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"id":1}`)
	header := Sign(body, "s3cret")

	assert.True(t, VerifySignature(body, header, "s3cret"))
	assert.True(t, VerifySignature(body, " "+header+" ", "s3cret"))
	assert.False(t, VerifySignature(body, header, "other"))
	assert.False(t, VerifySignature([]byte(`{"id": 1}`), header, "s3cret"))
	assert.False(t, VerifySignature(body, "", "s3cret"))
	assert.False(t, VerifySignature(body, "not base64!", "s3cret"))
	assert.False(t, VerifySignature(body, header, ""))
}
