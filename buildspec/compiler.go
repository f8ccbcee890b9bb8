package buildspec

import (
	"fmt"
	"strings"

	"github.com/gosimple/slug"

	"github.com/cooodecat/otto-handler/domain"
)

// Environment variables the compiled script reads. The provisioner and the
// build trigger set them on the build project and on each run.
const (
	EnvRegistryURI   = "ECR_REPOSITORY_URI"
	EnvTagPrefix     = "OTTO_TAG_PREFIX"
	EnvContainerName = "CONTAINER_NAME"
)

const (
	// ManifestFile is the image definitions file consumed by the deploy stage
	ManifestFile = "imagedefinitions.json"

	DefaultNodeVersion = "20"

	BlockNodeVersion   = "node_version"
	BlockInstallModule = "install_module_node"
	BlockUtilityTest   = "utility_custom_test"

	completionLogLine = `echo "Build completed on $(date)"`
)

// Compile turns pipeline nodes into a build script. It never fails: unknown
// block types and missing properties contribute no commands.
func Compile(nodes []domain.PipelineNode) *Document {
	c := newCompilation(nodes)

	preBuild := c.preBuild()
	build := c.build()
	postBuild := c.postBuild()

	return &Document{
		Version: Version,
		Phases: Phases{
			PreBuild:  Phase{Commands: preBuild},
			Build:     Phase{Commands: build},
			PostBuild: Phase{Commands: postBuild},
		},
		Artifacts: Artifacts{Files: []string{ManifestFile}},
	}
}

type compilation struct {
	buckets map[domain.GroupType][]domain.PipelineNode

	versionNode *domain.PipelineNode
	installNode *domain.PipelineNode

	runtime string
	pm      PackageManager
}

func newCompilation(nodes []domain.PipelineNode) *compilation {
	c := &compilation{
		buckets: make(map[domain.GroupType][]domain.PipelineNode),
		runtime: DefaultNodeVersion,
		pm:      DefaultPackageManager,
	}

	for i := range nodes {
		node := nodes[i]
		switch node.BlockType {
		case BlockNodeVersion:
			if c.versionNode == nil {
				c.versionNode = &node
			}
			continue
		case BlockInstallModule:
			if c.installNode == nil {
				c.installNode = &node
			}
			continue
		}
		c.buckets[node.GroupType] = append(c.buckets[node.GroupType], node)
	}

	if c.versionNode != nil {
		if v := c.versionNode.PropOr("version", c.versionNode.Prop("nodeVersion")); v != "" {
			c.runtime = v
		}
	}
	if c.installNode != nil {
		c.pm = ParsePackageManager(c.installNode.Prop("packageManager"))
	}
	return c
}

func (c *compilation) preBuild() []string {
	cmds := []string{}

	if c.versionNode != nil {
		cmds = append(cmds,
			fmt.Sprintf("echo \"Pinning Node.js runtime to %s\"", c.runtime),
			"n "+shellQuote(c.runtime),
			"node --version",
		)
	}
	if c.installNode != nil {
		cmds = append(cmds, c.pm.Bootstrap()...)
	}

	cmds = append(cmds,
		`echo "Logging in to Amazon ECR..."`,
		fmt.Sprintf(`aws ecr get-login-password --region "$AWS_DEFAULT_REGION" | docker login --username AWS --password-stdin "${%s%%%%/*}"`, EnvRegistryURI),
		fmt.Sprintf(`export IMAGE_TAG="${%s:-build}-${CODEBUILD_BUILD_NUMBER}"`, EnvTagPrefix),
	)

	for _, node := range c.buckets[domain.GroupPrebuild] {
		cmds = append(cmds, c.render(prebuildTemplates, node)...)
	}

	// must precede the build phase, which builds from this Dockerfile
	cmds = append(cmds, dockerfileCommand(c.runtime, c.pm))
	return cmds
}

func (c *compilation) build() []string {
	cmds := []string{}

	if c.installNode != nil {
		cmds = append(cmds,
			"echo \"Installing dependencies with "+string(c.pm)+"\"",
			c.pm.Install(c.installNode.Flag("cleanInstall")),
		)
	}

	for _, node := range c.buckets[domain.GroupBuild] {
		cmds = append(cmds, c.render(buildTemplates, node)...)
	}

	cmds = append(cmds,
		`echo "Building the Docker image..."`,
		fmt.Sprintf(`docker build -t "$%s:$IMAGE_TAG" .`, EnvRegistryURI),
		fmt.Sprintf(`docker tag "$%s:$IMAGE_TAG" "$%s:latest"`, EnvRegistryURI, EnvRegistryURI),
	)
	return cmds
}

func (c *compilation) postBuild() []string {
	cmds := []string{
		completionLogLine,
		`echo "Pushing the Docker image..."`,
		fmt.Sprintf(`docker push "$%s:$IMAGE_TAG"`, EnvRegistryURI),
		fmt.Sprintf(`docker push "$%s:latest"`, EnvRegistryURI),
		fmt.Sprintf(`printf '[{"name":"%%s","imageUri":"%%s"}]' "${%s:-app}" "$%s:$IMAGE_TAG" > %s`,
			EnvContainerName, EnvRegistryURI, ManifestFile),
	}

	tests := []string{}
	for _, node := range c.buckets[domain.GroupTest] {
		tests = append(tests, c.render(testTemplates, node)...)
	}
	for _, node := range c.buckets[domain.GroupUtility] {
		if node.BlockType == BlockUtilityTest {
			tests = append(tests, customCommands(node)...)
		}
	}
	if len(tests) > 0 {
		// tests gate the push, so they go right after the completion line
		spliced := make([]string, 0, len(cmds)+len(tests))
		spliced = append(spliced, cmds[:1]...)
		spliced = append(spliced, tests...)
		cmds = append(spliced, cmds[1:]...)
	}

	for _, node := range c.buckets[domain.GroupNotification] {
		cmds = append(cmds, c.render(notificationTemplates, node)...)
	}
	return cmds
}

func (c *compilation) render(templates map[string]template, node domain.PipelineNode) []string {
	tmpl, ok := templates[node.BlockType]
	if !ok {
		return nil
	}
	return tmpl(node, c.pm)
}

func dockerfileCommand(runtime string, pm PackageManager) string {
	lines := []string{
		fmt.Sprintf("FROM node:%s-alpine", runtime),
		"WORKDIR /app",
		"COPY . .",
	}
	if pm != DefaultPackageManager {
		lines = append(lines, "RUN npm install -g "+string(pm))
	}
	lines = append(lines,
		"RUN "+pm.Install(false),
		"RUN "+pm.Run("build")+" --if-present",
		"EXPOSE 3000",
		fmt.Sprintf(`CMD ["%s", "start"]`, pm),
	)

	quoted := make([]string, len(lines))
	for i, line := range lines {
		quoted[i] = shellQuote(line)
	}
	return fmt.Sprintf(
		`if [ ! -f Dockerfile ]; then echo "No Dockerfile found, generating default"; printf '%%s\n' %s > Dockerfile; fi`,
		strings.Join(quoted, " "),
	)
}

// shellQuote wraps s in single quotes for POSIX shells
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// dquoteEscape escapes s for use inside double quotes while keeping $VAR expansion
func dquoteEscape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "`", "\\`")
	return r.Replace(s)
}

// TagPrefix is the image tag prefix for a user's project, the build number completes the tag
func TagPrefix(userID, projectID string) string {
	return slug.Make(userID) + "-" + slug.Make(projectID)
}
