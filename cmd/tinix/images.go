package main

import (
	"os"

	"github.com/cloudfoundry/bytefmt"
	"github.com/spf13/cobra"

	"github.com/tinix-os/tinix/pkg/disk"
	"github.com/tinix-os/tinix/pkg/fs"
)

// mountImage opens and mounts an existing image for offline inspection.
func mountImage(path string) (*disk.Disk, *fs.FileSystem, error) {

	d, err := disk.New(path, log)
	if err != nil {
		return nil, nil, err
	}

	f := fs.New(d, log)
	err = f.Mount()
	if err != nil {
		_ = d.Close()
		return nil, nil, err
	}

	return d, f, nil

}

var fsCmd = &cobra.Command{
	Use:   "fs IMAGE",
	Short: "Summarize the information in an image's file-system metadata",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {

		d, f, err := mountImage(args[0])
		if err != nil {
			log.Errorf("%v", err)
			os.Exit(1)
		}
		defer d.Close()

		sb, err := f.Superblock()
		if err != nil {
			log.Errorf("%v", err)
			os.Exit(1)
		}

		log.Printf("Magic:            \t0x%08X", sb.Magic)
		log.Printf("Block size:       \t%s", bytefmt.ByteSize(disk.BlockSize))
		log.Printf("Blocks allocated: \t%d / %d", fs.MaxDataBlocks-sb.FreeBlocks, fs.MaxDataBlocks)
		log.Printf("Inodes allocated: \t%d / %d", sb.TotalInodes-sb.FreeInodes, sb.TotalInodes)
		log.Printf("Inode table:      \tblocks %d..%d", sb.InodeTableStart, sb.InodeTableStart+sb.InodeTableBlocks-1)
		log.Printf("Data region:      \tblocks %d..%d (%s)", sb.DataBlocksStart, sb.TotalBlocks-1, bytefmt.ByteSize(uint64(fs.MaxDataBlocks)*disk.BlockSize))

	},
}

var lsCmd = &cobra.Command{
	Use:   "ls IMAGE [PATH]",
	Short: "List directory contents on an image",
	Args:  cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {

		path := "/"
		if len(args) > 1 {
			path = args[1]
		}

		d, f, err := mountImage(args[0])
		if err != nil {
			log.Errorf("%v", err)
			os.Exit(1)
		}
		defer d.Close()

		entries, err := f.ListDirectory(path)
		if err != nil {
			log.Errorf("%v", err)
			os.Exit(1)
		}

		for _, entry := range entries {
			log.Printf("%-8d %s", entry.Inode, entry.Name)
		}

	},
}

var catCmd = &cobra.Command{
	Use:   "cat IMAGE PATH",
	Short: "Print the contents of a file on an image",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {

		d, f, err := mountImage(args[0])
		if err != nil {
			log.Errorf("%v", err)
			os.Exit(1)
		}
		defer d.Close()

		fd, err := f.OpenFile(args[1])
		if err != nil {
			log.Errorf("%v", err)
			os.Exit(1)
		}

		buf := make([]byte, disk.BlockSize)
		for {
			n, err := f.ReadFile(fd, buf)
			if err != nil {
				log.Errorf("%v", err)
				os.Exit(1)
			}
			if n == 0 {
				break
			}
			_, err = os.Stdout.Write(buf[:n])
			if err != nil {
				log.Errorf("%v", err)
				os.Exit(1)
			}
		}

		_ = f.CloseFile(fd)

	},
}
