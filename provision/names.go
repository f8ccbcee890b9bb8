package provision

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/gosimple/slug"
)

const (
	namePrefix = "otto"
	ruleSuffix = "-builds"
	// EventBridge rule names are limited to 64 characters
	maxRuleNameLength = 64
	ruleHashLength    = 8
)

// ResourceNames holds the cloud resource names of one project
type ResourceNames struct {
	Repository   string
	LogGroup     string
	BuildProject string
	Rule         string
}

// NamesFor derives stable resource names from the owning user and project
func NamesFor(userID, projectID string) ResourceNames {
	user := slug.Make(userID)
	project := slug.Make(projectID)
	base := fmt.Sprintf("%s-%s-%s", namePrefix, user, project)

	return ResourceNames{
		Repository:   fmt.Sprintf("%s/%s/%s", namePrefix, user, project),
		LogGroup:     fmt.Sprintf("/aws/codebuild/%s/%s/%s", namePrefix, user, project),
		BuildProject: base,
		Rule:         ruleName(base),
	}
}

// ruleName keeps long names unique by replacing the cut tail with a hash of
// the full name. PutRule overwrites a rule with the same name.
func ruleName(base string) string {
	if len(base)+len(ruleSuffix) <= maxRuleNameLength {
		return base + ruleSuffix
	}
	sum := sha256.Sum256([]byte(base))
	hash := hex.EncodeToString(sum[:])[:ruleHashLength]
	keep := maxRuleNameLength - len(ruleSuffix) - len(hash) - 1
	return base[:keep] + "-" + hash + ruleSuffix
}
