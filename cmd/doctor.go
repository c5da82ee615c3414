package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/mnemohq/engram/internal/config"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose common setup issues",
	Long: `Diagnose common setup issues and optionally fix them.

Examples:
  engram doctor        # check for issues
  engram doctor --fix  # check and auto-fix issues`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fix, _ := cmd.Flags().GetBool("fix")
		return runDoctor(fix)
	},
}

func init() {
	doctorCmd.Flags().Bool("fix", false, "Attempt to automatically fix issues")
}

// runDoctor diagnoses common setup issues
func runDoctor(fix bool) error {
	fmt.Println("🔍 Engram Doctor - Diagnosing Setup")
	if fix {
		fmt.Println("🛠️  Auto-fix enabled")
	}
	fmt.Println()

	issues := 0
	warnings := 0
	fixed := 0

	// 1. Check if binary is in PATH
	fmt.Print("✓ Checking if engram is in PATH... ")
	path, err := exec.LookPath("engram")
	if err != nil {
		fmt.Println("❌ FAILED")
		fmt.Println("  Issue: engram binary not found in PATH")
		fmt.Println("  Fix: Add engram to your PATH or use full path")
		issues++
	} else {
		fmt.Printf("✅ OK (%s)\n", path)
	}

	// 2. Check binary permissions
	fmt.Print("✓ Checking binary permissions... ")
	if path != "" {
		info, err := os.Stat(path)
		if err != nil {
			fmt.Println("❌ FAILED")
			fmt.Printf("  Issue: Cannot stat binary: %v\n", err)
			issues++
		} else if info.Mode()&0111 == 0 {
			if fix {
				fmt.Print("🛠️  Fixing... ")
				if err := os.Chmod(path, info.Mode()|0111); err != nil {
					fmt.Printf("❌ FAILED: %v\n", err)
					issues++
				} else {
					fmt.Println("✅ FIXED")
					fixed++
				}
			} else {
				fmt.Println("❌ FAILED")
				fmt.Println("  Issue: Binary is not executable")
				fmt.Printf("  Fix: Run 'chmod +x %s'\n", path)
				issues++
			}
		} else {
			fmt.Println("✅ OK")
		}
	}

	// 3. Check configuration
	fmt.Print("✓ Checking configuration... ")
	cfg, err := config.Load()
	if err != nil {
		fmt.Println("❌ FAILED")
		fmt.Printf("  Issue: %v\n", err)
		issues++
		cfg = config.Default()
	} else if len(cfg.Domains) == 0 {
		fmt.Println("⚠️  WARNING")
		fmt.Println("  No writable domains configured; every create will fail")
		warnings++
	} else {
		fmt.Printf("✅ OK (%d domain(s))\n", len(cfg.Domains))
	}

	// 4. Check data directory
	fmt.Print("✓ Checking data directory... ")
	dataDir := cfg.DataDir
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".engram")
	}
	if _, err := os.Stat(dataDir); os.IsNotExist(err) {
		if fix {
			fmt.Print("🛠️  Creating... ")
			if err := os.MkdirAll(dataDir, 0700); err != nil {
				fmt.Printf("❌ FAILED: %v\n", err)
				issues++
			} else {
				fmt.Println("✅ FIXED")
				fixed++
			}
		} else {
			fmt.Println("⚠️  WARNING")
			fmt.Printf("  Data directory does not exist: %s\n", dataDir)
			fmt.Println("  It will be created on first run")
			warnings++
		}
	} else {
		fmt.Printf("✅ OK (%s)\n", dataDir)
	}

	// 5. Check SQLite database
	fmt.Print("✓ Checking SQLite database... ")
	dbPath := filepath.Join(dataDir, "engram.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("⚠️  WARNING")
		fmt.Printf("  Database not found: %s\n", dbPath)
		fmt.Println("  It will be created on first run")
		warnings++
	} else {
		store, _, err := openStore()
		if err != nil {
			fmt.Println("❌ FAILED")
			fmt.Printf("  Issue: Cannot open database: %v\n", err)
			issues++
		} else {
			var pending int
			if err := store.GetDB().QueryRow(`SELECT COUNT(*) FROM snapshots WHERE status = 'pending'`).Scan(&pending); err != nil {
				fmt.Println("⚠️  WARNING")
				fmt.Printf("  Could not read snapshots table: %v\n", err)
				warnings++
			} else if pending > 0 {
				fmt.Printf("✅ OK (%d pending snapshot(s) awaiting review)\n", pending)
			} else {
				fmt.Println("✅ OK")
			}
			store.Close()
		}
	}

	// 6. Check boot set resolvability
	fmt.Print("✓ Checking boot URIs... ")
	missing := 0
	if _, err := os.Stat(dbPath); err == nil {
		if store, _, err := openStore(); err == nil {
			for _, uri := range cfg.BootURIs {
				if _, err := store.Resolve(context.Background(), uri); err != nil {
					missing++
				}
			}
			store.Close()
		}
	}
	if missing > 0 {
		fmt.Printf("⚠️  WARNING (%d of %d boot URIs missing)\n", missing, len(cfg.BootURIs))
		fmt.Println("  Missing boot URIs are skipped at boot, not fatal")
		warnings++
	} else {
		fmt.Println("✅ OK")
	}

	// 7. Test server startup
	fmt.Print("✓ Testing server startup... ")
	cmd := exec.Command("engram", "version")
	if err := cmd.Run(); err != nil {
		fmt.Println("❌ FAILED")
		fmt.Printf("  Issue: Cannot run engram: %v\n", err)
		issues++
	} else {
		fmt.Println("✅ OK")
	}

	// 8. Check for common environment issues
	fmt.Print("✓ Checking environment... ")
	if runtime.GOOS == "darwin" && runtime.GOARCH != "arm64" {
		fmt.Println("⚠️  WARNING (Running under Rosetta)")
		warnings++
	} else {
		fmt.Printf("✅ OK (%s/%s)\n", runtime.GOOS, runtime.GOARCH)
	}

	// Summary
	fmt.Println()
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	if issues == 0 && warnings == 0 {
		fmt.Println("✅ All checks passed! Engram is ready to use.")
	} else {
		if fixed > 0 {
			fmt.Printf("🛠️  Auto-fixed %d issue(s)\n", fixed)
		}
		if issues > 0 {
			fmt.Printf("❌ Found %d critical issue(s)\n", issues)
		}
		if warnings > 0 {
			fmt.Printf("⚠️  Found %d warning(s)\n", warnings)
		}
		fmt.Println()
		fmt.Println("Run the suggested fixes above to resolve issues.")
	}
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	if issues > 0 {
		return fmt.Errorf("found %d critical issue(s)", issues)
	}
	return nil
}
