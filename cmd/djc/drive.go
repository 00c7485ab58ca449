package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/franz/disk-janitor/internal/space"
	"github.com/franz/disk-janitor/internal/store"
	"github.com/franz/disk-janitor/internal/transfer"
	"github.com/franz/disk-janitor/internal/util"
	"github.com/spf13/cobra"
)

var driveCmd = &cobra.Command{
	Use:   "drive",
	Short: "Register and manage storage drives",
}

var driveAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a drive as a migration source or target",
	RunE:  runDriveAdd,
}

var driveListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered drives with free-space figures",
	RunE:  runDriveList,
}

var driveOnlineCmd = &cobra.Command{
	Use:   "online <label>",
	Short: "Mark a drive online",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setDriveOnline(args[0], true)
	},
}

var driveOfflineCmd = &cobra.Command{
	Use:   "offline <label>",
	Short: "Mark a drive offline (blocks new batches targeting it)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setDriveOnline(args[0], false)
	},
}

func init() {
	rootCmd.AddCommand(driveCmd)
	driveCmd.AddCommand(driveAddCmd, driveListCmd, driveOnlineCmd, driveOfflineCmd)

	driveAddCmd.Flags().String("label", "", "unique drive label (required)")
	driveAddCmd.Flags().String("mount", "", "mount path for local drives")
	driveAddCmd.Flags().String("role", "archive", "drive role (source, archive, scratch)")
	driveAddCmd.Flags().String("backend", "local", "transfer backend (local, rclone)")
	driveAddCmd.Flags().String("remote", "", "rclone remote name for the rclone backend")
	driveAddCmd.Flags().Bool("readonly", false, "register the drive as read-only")
	driveAddCmd.MarkFlagRequired("label")
}

func runDriveAdd(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	label, _ := cmd.Flags().GetString("label")
	mount, _ := cmd.Flags().GetString("mount")
	role, _ := cmd.Flags().GetString("role")
	backend, _ := cmd.Flags().GetString("backend")
	remote, _ := cmd.Flags().GetString("remote")
	readonly, _ := cmd.Flags().GetBool("readonly")

	drive := &store.Drive{
		Label:        label,
		MountPath:    mount,
		Role:         role,
		IsOnline:     true,
		IsReadonly:   readonly,
		Backend:      store.Backend(backend),
		RcloneRemote: remote,
	}

	switch drive.Backend {
	case store.BackendLocal:
		if mount == "" {
			return fmt.Errorf("local drives require --mount")
		}
		info, err := space.GetFreeSpace(mount)
		if err != nil {
			return fmt.Errorf("cannot stat mount %s: %w", mount, err)
		}
		drive.TotalBytes = int64(info.TotalBytes)
	case store.BackendRclone:
		if remote == "" {
			return fmt.Errorf("rclone drives require --remote")
		}
		if !transfer.IsRcloneAvailable() {
			util.WarnLog("rclone binary not found on PATH; transfers to %q will fail", label)
		}
	default:
		return fmt.Errorf("unknown backend %q (must be local or rclone)", backend)
	}

	if err := db.InsertDrive(drive); err != nil {
		return err
	}

	if err := db.AppendAudit(&store.AuditEntry{
		Action:    "drive_added",
		DriveID:   drive.ID,
		Details:   fmt.Sprintf("%s (%s backend, role %s)", label, backend, role),
		AgentMode: store.AgentManual,
	}); err != nil {
		return err
	}

	util.SuccessLog("Registered drive %d: %s", drive.ID, label)
	return nil
}

func runDriveList(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	drives, err := db.ListDrives()
	if err != nil {
		return err
	}

	if len(drives) == 0 {
		util.InfoLog("No drives registered. Run 'djc drive add' first.")
		return nil
	}

	for _, d := range drives {
		state := "online"
		if !d.IsOnline {
			state = "offline"
		}
		if d.IsReadonly {
			state += ", read-only"
		}

		util.InfoLog("[%d] %s (%s, %s, %s)", d.ID, d.Label, d.Backend, d.Role, state)

		if d.Backend == store.BackendLocal && d.IsOnline {
			info, err := space.GetFreeSpace(d.MountPath)
			if err != nil {
				util.WarnLog("    cannot stat %s: %v", d.MountPath, err)
				continue
			}
			util.InfoLog("    %s: %s free of %s (max safe write %s)",
				d.MountPath,
				humanize.IBytes(info.FreeBytes),
				humanize.IBytes(info.TotalBytes),
				humanize.IBytes(info.MaxSafeWriteBytes()))
		}
		if d.Backend == store.BackendRclone {
			util.InfoLog("    remote: %s", d.RcloneRemote)
		}
	}

	return nil
}

func setDriveOnline(label string, online bool) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	drive, err := resolveDrive(db, label)
	if err != nil {
		return err
	}

	if err := db.SetDriveOnline(drive.ID, online); err != nil {
		return err
	}

	state := "online"
	if !online {
		state = "offline"
	}

	if err := db.AppendAudit(&store.AuditEntry{
		Action:    "drive_" + state,
		DriveID:   drive.ID,
		Details:   fmt.Sprintf("drive %q marked %s", drive.Label, state),
		AgentMode: store.AgentManual,
	}); err != nil {
		return err
	}

	util.SuccessLog("Drive %q is now %s", drive.Label, state)
	return nil
}
