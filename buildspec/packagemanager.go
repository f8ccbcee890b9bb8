package buildspec

import "strings"

// PackageManager selects the install/exec commands for Node.js projects
type PackageManager string

const (
	PackageManagerNPM  PackageManager = "npm"
	PackageManagerYarn PackageManager = "yarn"
	PackageManagerPNPM PackageManager = "pnpm"
	PackageManagerBun  PackageManager = "bun"

	DefaultPackageManager = PackageManagerNPM
)

// ParsePackageManager falls back to the default for unknown values
func ParsePackageManager(s string) PackageManager {
	switch pm := PackageManager(strings.ToLower(strings.TrimSpace(s))); pm {
	case PackageManagerNPM, PackageManagerYarn, PackageManagerPNPM, PackageManagerBun:
		return pm
	default:
		return DefaultPackageManager
	}
}

// Bootstrap returns the commands that make the package manager available on the build image
func (pm PackageManager) Bootstrap() []string {
	if pm == DefaultPackageManager {
		return nil
	}
	return []string{
		"echo \"Installing package manager " + string(pm) + "\"",
		"npm install -g " + string(pm),
	}
}

// Install returns the dependency install command
func (pm PackageManager) Install(clean bool) string {
	switch pm {
	case PackageManagerYarn:
		if clean {
			return "yarn install --frozen-lockfile"
		}
		return "yarn install"
	case PackageManagerPNPM:
		if clean {
			return "pnpm install --frozen-lockfile"
		}
		return "pnpm install"
	case PackageManagerBun:
		if clean {
			return "bun install --frozen-lockfile"
		}
		return "bun install"
	default:
		if clean {
			return "npm ci"
		}
		return "npm install"
	}
}

// Exec runs a binary from the project's dependencies
func (pm PackageManager) Exec(args string) string {
	switch pm {
	case PackageManagerYarn:
		return "yarn " + args
	case PackageManagerPNPM:
		return "pnpm exec " + args
	case PackageManagerBun:
		return "bunx " + args
	default:
		return "npx " + args
	}
}

// Run runs a package.json script
func (pm PackageManager) Run(script string) string {
	return string(pm) + " run " + script
}
