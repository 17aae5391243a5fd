package blob

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublicURL(t *testing.T) {
	s := &MinioStore{bucket: "attachments", publicBaseURL: "https://cdn.example.com"}
	assert.Equal(t, "https://cdn.example.com/attachments/conv/alice/1_x_photo.png",
		s.PublicURL("conv/alice/1_x_photo.png"))
}
