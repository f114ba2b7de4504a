package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// BootConfig describes the machine the kernel boots on.
//
// Example boot.json:
//
//	{
//		"ncpu": 4,
//		"kernel_end": 2149580800,
//		"phys_top": 2155872256,
//		"nbuf": 30,
//		"nbucket": 13,
//		"disk_path": "fs.img",
//		"disk_blocks": 2000,
//		"log_level": "INFO"
//	}
type BootConfig struct {
	NCPU      int    `json:"ncpu"`
	BootCPU   int    `json:"boot_cpu"`
	KernelEnd uint64 `json:"kernel_end"`
	PhysTop   uint64 `json:"phys_top"`

	NBUF    int `json:"nbuf"`
	NBUCKET int `json:"nbucket"`

	// DiskPath is the disk image for device 1. Empty means a RAM disk.
	DiskPath   string `json:"disk_path"`
	DiskBlocks uint32 `json:"disk_blocks"`

	LogPath  string `json:"log_path"`
	LogLevel string `json:"log_level"`
}

// Default mirrors the qemu virt machine: 8 harts, 128 MiB of RAM above a 2 MiB kernel image.
func Default() BootConfig {
	return BootConfig{
		NCPU:       8,
		BootCPU:    0,
		KernelEnd:  0x80000000 + 2*1024*1024,
		PhysTop:    0x80000000 + 128*1024*1024,
		NBUF:       30,
		NBUCKET:    13,
		DiskBlocks: 2000,
		LogPath:    "kernel.log",
		LogLevel:   "INFO",
	}
}

// LoadConfig reads a JSON boot configuration. Fields missing from the file keep their default.
func LoadConfig(filePath string) (BootConfig, error) {

	config := Default()

	configFile, err := os.Open(filePath)

	if err != nil {
		return config, err
	}

	defer configFile.Close()

	jsonParser := json.NewDecoder(configFile)
	jsonParser.DisallowUnknownFields()

	if err := jsonParser.Decode(&config); err != nil {
		return config, fmt.Errorf("parse %s: %w", filePath, err)
	}

	return config, config.Validate()
}

func (config BootConfig) Validate() error {

	switch {
	case config.NCPU <= 0:
		return fmt.Errorf("ncpu must be positive, got %d", config.NCPU)
	case config.BootCPU < 0 || config.BootCPU >= config.NCPU:
		return fmt.Errorf("boot_cpu %d out of range [0, %d)", config.BootCPU, config.NCPU)
	case config.PhysTop <= config.KernelEnd:
		return fmt.Errorf("phys_top %#x must be above kernel_end %#x", config.PhysTop, config.KernelEnd)
	case config.NBUF <= 0 || config.NBUCKET <= 0:
		return fmt.Errorf("nbuf and nbucket must be positive, got %d and %d", config.NBUF, config.NBUCKET)
	case config.DiskBlocks == 0:
		return fmt.Errorf("disk_blocks must be positive")
	}
	return nil
}
