// Command nachos boots the kernel simulator: it formats or mounts a disk
// image, wires together the scheduler, virtual memory, and file system,
// then execs one user program and waits for it to finish. Grounded on
// samples/mount_hello/mount.go's flag-parse/construct/run/wait shape.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"nachos/config"
	"nachos/internal/fs"
	"nachos/internal/kernel"
	"nachos/internal/machine"
	"nachos/internal/stats"
	"nachos/internal/syscall"
	"nachos/internal/vm"
)

var (
	fExec          = flag.String("exec", "", "Path to the user executable to run.")
	fFormat        = flag.Bool("format", false, "Format the disk before booting.")
	fDiskPath      = flag.String("disk", "nachos.disk", "Path to the backing disk image.")
	fNumSectors    = flag.Int("num_sectors", 4096, "Number of sectors on the simulated disk.")
	fNumDirEntries = flag.Int("num_dir_entries", 16, "Entries per directory table.")
	fFilesysMode   = flag.Bool("filesys", true, "Enable the hierarchical directory tree (Cd/Ls).")

	fNumPhysPages = flag.Int("num_phys_pages", 32, "Number of simulated physical frames.")
	fUseTLB       = flag.Bool("use_tlb", true, "Use a software-managed TLB in front of the page table.")
	fDemandLoad   = flag.Bool("demand_loading", true, "Defer frame allocation to the first page fault.")
	fSwap         = flag.Bool("swap", false, "Allow pages to be evicted to a per-process swap file.")
	fPolicy       = flag.String("policy", "fifo", "Replacement policy when swap is enabled: fifo, clock, random.")
	fSwapDir      = flag.String("swap_dir", ".", "Directory holding per-process swap files.")
)

func parsePolicy(s string) config.ReplacementPolicy {
	switch s {
	case "clock":
		return config.CLOCK
	case "random":
		return config.RANDOM
	default:
		return config.FIFO
	}
}

func main() {
	flag.Parse()

	cfg := config.Boot{
		FilesysMode:      *fFilesysMode,
		UseTLB:           *fUseTLB,
		DemandLoading:    *fDemandLoad || *fSwap,
		SwapEnabled:      *fSwap,
		Policy:           parsePolicy(*fPolicy),
		NumPhysicalPages: *fNumPhysPages,
		DiskPath:         *fDiskPath,
		NumDiskSectors:   *fNumSectors,
		NumDirEntries:    *fNumDirEntries,
	}

	sched := kernel.NewScheduler()
	st := stats.New()
	sched.SetStats(st)

	disk, err := machine.NewDisk(cfg.DiskPath, cfg.NumDiskSectors, sched, st)
	if err != nil {
		log.Fatalf("opening disk: %v", err)
	}
	defer disk.Close()

	console := machine.NewSynchConsole(os.Stdin, os.Stdout, sched, st)

	mem := vm.NewMemory(cfg.NumPhysicalPages)
	mem.SetStats(st)
	var tlb *vm.TLB
	if cfg.UseTLB {
		tlb = vm.NewTLB()
	}

	boot := kernel.NewThread("boot", -1, kernel.NumPriorityLevels/2)

	var fsys *fs.FileSystem
	var dispatcher *syscall.Dispatcher

	sched.Fork(boot, func(self *kernel.Thread) int {
		var err error
		if *fFormat {
			fsys, err = fs.Format(self, disk, sched, cfg.NumDirEntries, st)
		} else {
			fsys, err = fs.Mount(self, disk, sched, cfg.NumDirEntries, st)
		}
		if err != nil {
			log.Fatalf("initializing file system: %v", err)
		}

		dispatcher = syscall.NewDispatcher(cfg, fsys, sched, mem, tlb, console, st, *fSwapDir)

		if *fExec == "" {
			return 0
		}
		proc, err := dispatcher.Spawn(self, *fExec, nil, true, kernel.NumPriorityLevels/2)
		if err != nil {
			log.Fatalf("exec %s: %v", *fExec, err)
		}
		fmt.Printf("nachos: running %s as pid %d\n", *fExec, proc.Thread.Pid)
		return 0
	})

	sched.Run()
	st.Print()
}
