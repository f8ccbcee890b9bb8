package buildspec

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/cooodecat/otto-handler/domain"
)

// template generates the commands contributed by one node
type template func(node domain.PipelineNode, pm PackageManager) []string

var envNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var prebuildTemplates = map[string]template{
	"os_package":        osPackageCommands,
	"environment_setup": environmentCommands,
	"custom_command":    func(n domain.PipelineNode, _ PackageManager) []string { return customCommands(n) },
}

var buildTemplates = map[string]template{
	"build_vite": func(n domain.PipelineNode, pm PackageManager) []string {
		args := "vite build"
		if mode := n.Prop("mode"); mode != "" {
			args += " --mode " + shellQuote(mode)
		}
		return []string{pm.Exec(args)}
	},
	"build_webpack": func(n domain.PipelineNode, pm PackageManager) []string {
		args := "webpack --mode " + shellQuote(n.PropOr("mode", "production"))
		if cfg := n.Prop("config"); cfg != "" {
			args += " --config " + shellQuote(cfg)
		}
		return []string{pm.Exec(args)}
	},
	"build_nextjs": func(_ domain.PipelineNode, pm PackageManager) []string {
		return []string{pm.Exec("next build")}
	},
	"build_typescript": func(n domain.PipelineNode, pm PackageManager) []string {
		args := "tsc"
		if project := n.Prop("project"); project != "" {
			args += " -p " + shellQuote(project)
		}
		return []string{pm.Exec(args)}
	},
	"build_npm_script": func(n domain.PipelineNode, pm PackageManager) []string {
		return []string{pm.Run(n.PropOr("script", "build"))}
	},
	"build_custom": func(n domain.PipelineNode, _ PackageManager) []string { return customCommands(n) },
}

var testTemplates = map[string]template{
	"test_jest": func(n domain.PipelineNode, pm PackageManager) []string {
		args := "jest --ci"
		if n.Flag("coverage") {
			args += " --coverage"
		}
		return []string{pm.Exec(args)}
	},
	"test_vitest": func(n domain.PipelineNode, pm PackageManager) []string {
		args := "vitest run"
		if n.Flag("coverage") {
			args += " --coverage"
		}
		return []string{pm.Exec(args)}
	},
	"test_mocha": func(n domain.PipelineNode, pm PackageManager) []string {
		args := "mocha"
		if spec := n.Prop("spec"); spec != "" {
			args += " " + shellQuote(spec)
		}
		return []string{pm.Exec(args)}
	},
	"test_playwright": func(_ domain.PipelineNode, pm PackageManager) []string {
		return []string{
			pm.Exec("playwright install --with-deps"),
			pm.Exec("playwright test"),
		}
	},
	"test_npm_script": func(n domain.PipelineNode, pm PackageManager) []string {
		return []string{pm.Run(n.PropOr("script", "test"))}
	},
	"test_custom": func(n domain.PipelineNode, _ PackageManager) []string { return customCommands(n) },
}

var notificationTemplates = map[string]template{
	"notification_slack":   slackCommands,
	"notification_webhook": webhookCommands,
}

func osPackageCommands(n domain.PipelineNode, _ PackageManager) []string {
	packages := n.List("packages", true)
	if len(packages) == 0 {
		return nil
	}
	quoted := make([]string, len(packages))
	for i, p := range packages {
		quoted[i] = shellQuote(p)
	}
	list := strings.Join(quoted, " ")

	switch n.PropOr("manager", "apt") {
	case "apk":
		return []string{"apk add --no-cache " + list}
	case "yum":
		return []string{"yum install -y " + list}
	default:
		return []string{
			"apt-get update -y",
			"apt-get install -y " + list,
		}
	}
}

func environmentCommands(n domain.PipelineNode, _ PackageManager) []string {
	pairs := n.Pairs("variables")
	if len(pairs) == 0 {
		pairs = n.Pairs("environmentVariables")
	}
	var cmds []string
	for _, kv := range pairs {
		if !envNamePattern.MatchString(kv[0]) {
			continue
		}
		cmds = append(cmds, fmt.Sprintf("export %s=%s", kv[0], shellQuote(kv[1])))
	}
	return cmds
}

func customCommands(n domain.PipelineNode) []string {
	if cmds := n.List("commands", false); len(cmds) > 0 {
		return cmds
	}
	if cmds := n.List("command", false); len(cmds) > 0 {
		return cmds
	}
	return n.List("script", false)
}

func slackCommands(n domain.PipelineNode, _ PackageManager) []string {
	url := n.Prop("webhookUrl")
	if url == "" {
		return nil
	}
	message := n.PropOr("message", "Otto build $CODEBUILD_BUILD_ID finished (succeeding=$CODEBUILD_BUILD_SUCCEEDING)")
	cmd := fmt.Sprintf(
		`curl -sS -X POST -H 'Content-Type: application/json' -d "$(printf '{"text":"%%s"}' "%s")" %s`,
		dquoteEscape(message), shellQuote(url),
	)
	return []string{guardOutcome(n, cmd)}
}

func webhookCommands(n domain.PipelineNode, _ PackageManager) []string {
	url := n.Prop("url")
	if url == "" {
		return nil
	}
	method := strings.ToUpper(n.PropOr("method", "POST"))
	cmd := fmt.Sprintf(
		`curl -sS -X %s -H 'Content-Type: application/json' -d "$(printf '{"build_id":"%%s","succeeded":"%%s"}' "$CODEBUILD_BUILD_ID" "$CODEBUILD_BUILD_SUCCEEDING")" %s`,
		shellQuote(method), shellQuote(url),
	)
	return []string{guardOutcome(n, cmd)}
}

// guardOutcome restricts a notification to successful or failed builds
func guardOutcome(n domain.PipelineNode, cmd string) string {
	switch strings.ToLower(n.Prop("notifyOn")) {
	case "success":
		return fmt.Sprintf(`if [ "$CODEBUILD_BUILD_SUCCEEDING" = "1" ]; then %s; fi`, cmd)
	case "failure":
		return fmt.Sprintf(`if [ "$CODEBUILD_BUILD_SUCCEEDING" = "0" ]; then %s; fi`, cmd)
	default:
		return cmd
	}
}
