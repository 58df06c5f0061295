// Command hashdemo is a small argv-driven program exercising the hash
// index end to end, in the teacher's cmd/manual_test convention (a
// single-purpose manual-poking binary, not a production CLI).
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/tuannm99/diskhash/internal/bufpool"
	"github.com/tuannm99/diskhash/internal/config"
	"github.com/tuannm99/diskhash/internal/diskio"
	"github.com/tuannm99/diskhash/internal/hashindex"
	"github.com/tuannm99/diskhash/pkg/clockx"
	"github.com/tuannm99/diskhash/pkg/serial"
)

func main() {
	configPath := flag.String("config", "hashdemo.yaml", "path to a YAML config file")
	n := flag.Int("n", 20, "number of (key, value) pairs to insert")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("LoadConfig: %v", err)
	}

	disk, err := diskio.OpenFileDiskManager(cfg.Storage.DataFile, cfg.Storage.LogFile)
	if err != nil {
		log.Fatalf("OpenFileDiskManager: %v", err)
	}
	defer disk.Close()

	pool := bufpool.New(cfg.BufferPool.PoolSize, disk, clockx.New(cfg.BufferPool.PoolSize))

	table, err := hashindex.Create[serial.U32, serial.U32](
		pool,
		serial.U32(0).SerializedSize(),
		serial.U32(0).SerializedSize(),
		serial.FromBytesU32,
		serial.FromBytesU32,
		cfg.HashTable.InitialTableSize,
		hashindex.XXHash64,
		0x5EED,
	)
	if err != nil {
		log.Fatalf("hashindex.Create: %v", err)
	}

	for i := 0; i < *n; i++ {
		key := serial.U32(i)
		value := serial.U32(i * i)
		if err := table.Insert(key, value); err != nil {
			log.Fatalf("Insert(%d, %d): %v", key, value, err)
		}
	}

	if err := pool.FlushAllPages(); err != nil {
		log.Fatalf("FlushAllPages: %v", err)
	}

	fmt.Printf("inserted %d entries into header page %d (seed %#x)\n", *n, table.HeaderPageID(), table.HashSeed())

	for i := 0; i < *n; i++ {
		v, ok, err := table.GetSingleValue(serial.U32(i))
		if err != nil {
			log.Fatalf("GetSingleValue(%d): %v", i, err)
		}
		if !ok {
			log.Fatalf("GetSingleValue(%d): not found", i)
		}
		fmt.Printf("  %d -> %d\n", i, v)
	}
}
