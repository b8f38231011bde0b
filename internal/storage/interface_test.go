package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateIdentity(t *testing.T) {
	assert.NoError(t, ValidateIdentity("issues", []string{"gh_issue_id", "repo_id"}))
	assert.NoError(t, ValidateIdentity("message", []string{"platform_msg_id"}))

	assert.Error(t, ValidateIdentity("repo; DROP TABLE issues", []string{"repo_id"}))
	assert.Error(t, ValidateIdentity("issues", []string{"issue_title"}))
	assert.Error(t, ValidateIdentity("issues", nil))
}
