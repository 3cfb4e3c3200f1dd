// Command bexctl is a local-only demonstration CLI over the Engine
// Facade (§4.J): it can add a file to a store, list a directory, stat
// a CID, and cat a file back out, all without a Swarm or Router
// configured — those collaborators are optional at this layer (§6).
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/ipfs/go-cid"
	"github.com/urfave/cli/v2"

	"bex/blockstore"
	"bex/builder"
	"bex/engine"
)

func main() {
	app := &cli.App{
		Name:  "bexctl",
		Usage: "content-addressed block exchange store, local-only demo",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "datadir", Value: "./bex-data", Usage: "store root directory"},
		},
		Commands: []*cli.Command{
			addCommand,
			catCommand,
			statCommand,
			lsCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "bexctl:", err)
		os.Exit(1)
	}
}

func openEngine(c *cli.Context) (*engine.Engine, error) {
	return engine.New(engine.Config{
		Store: blockstore.Config{Dir: c.String("datadir")},
	})
}

var addCommand = &cli.Command{
	Name:      "add",
	Usage:     "chunk and add a file, printing its root CID",
	ArgsUsage: "<path>",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "raw-leaves", Usage: "store leaves as raw blocks instead of UnixFS-File leaves"},
		&cli.BoolFlag{Name: "only-hash", Usage: "compute the CID without writing anything"},
		&cli.BoolFlag{Name: "wrap", Usage: "wrap the file in a directory node"},
	},
	Action: func(c *cli.Context) error {
		path := c.Args().First()
		if path == "" {
			return fmt.Errorf("usage: bexctl add <path>")
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		e, err := openEngine(c)
		if err != nil {
			return err
		}

		root, err := e.FileSystem().AddFile(context.Background(), f, builder.Options{
			RawLeaves: c.Bool("raw-leaves"),
			OnlyHash:  c.Bool("only-hash"),
			Wrap:      c.Bool("wrap"),
			Name:      path,
		})
		if err != nil {
			return err
		}
		fmt.Println(root)
		return nil
	},
}

var catCommand = &cli.Command{
	Name:      "cat",
	Usage:     "stream a file's content to stdout",
	ArgsUsage: "<cid>",
	Action: func(c *cli.Context) error {
		id, err := cid.Decode(c.Args().First())
		if err != nil {
			return fmt.Errorf("parse cid: %w", err)
		}
		e, err := openEngine(c)
		if err != nil {
			return err
		}
		r, err := e.FileSystem().GetReader(id)
		if err != nil {
			return err
		}
		_, err = io.Copy(os.Stdout, r)
		return err
	},
}

var statCommand = &cli.Command{
	Name:      "stat",
	Usage:     "print size information for a block",
	ArgsUsage: "<cid>",
	Action: func(c *cli.Context) error {
		id, err := cid.Decode(c.Args().First())
		if err != nil {
			return fmt.Errorf("parse cid: %w", err)
		}
		e, err := openEngine(c)
		if err != nil {
			return err
		}
		st, err := e.Block().StatCid(id)
		if err != nil {
			return err
		}
		fmt.Printf("size: %d\ncumulative: %d\n", st.Size, st.CumulativeSize)
		return nil
	},
}

var lsCommand = &cli.Command{
	Name:      "ls",
	Usage:     "list the named links of a directory node",
	ArgsUsage: "<cid>",
	Action: func(c *cli.Context) error {
		id, err := cid.Decode(c.Args().First())
		if err != nil {
			return fmt.Errorf("parse cid: %w", err)
		}
		e, err := openEngine(c)
		if err != nil {
			return err
		}
		entries, err := e.FileSystem().ListFile(id)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			fmt.Printf("%s\t%s\n", entry.ID, entry.Name)
		}
		return nil
	},
}
