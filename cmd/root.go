// cmd/root.go
package cmd

import (
	"fmt"
	"os"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	fusion "github.com/tsdfusion/tsdfusion/fusion"
)

var (
	frames       int
	orbitRadius  float64
	sceneRadius  float64
	imageWidth   int
	imageHeight  int
	logLevel     string
	bundlePath   string
	objPath      string
	meshInterval int
)

var rootCmd = &cobra.Command{
	Use:   "tsdfusion",
	Short: "Real-time TSDF volumetric reconstruction engine",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a synthetic scan session through the full pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)

		cfg := fusion.DefaultVolumeConfig()
		if bundlePath != "" {
			bundle, err := fusion.LoadTuningBundle(bundlePath)
			if err != nil {
				return err
			}
			if cfg, err = bundle.Apply(cfg); err != nil {
				return err
			}
		}

		volume, err := fusion.NewVolume(cfg, fusion.NewCPUBackend(cfg.SkipLowConfidence))
		if err != nil {
			return err
		}
		logrus.Infof("Starting synthetic scan: %d frames, orbit %.2fm, %dx%d depth",
			frames, orbitRadius, imageWidth, imageHeight)

		scene := fusion.SphereScene{
			Center:     mgl32.Vec3{0, 0, 0},
			Radius:     float32(sceneRadius),
			Confidence: 2,
		}
		intr := fusion.CameraIntrinsics{
			Fx: float32(imageWidth), Fy: float32(imageWidth),
			Cx: float32(imageWidth) / 2, Cy: float32(imageHeight) / 2,
		}

		var mesh fusion.MeshOutput
		for i := 0; i < frames; i++ {
			now := float64(i) / 60.0
			// ~0.45 m/s at 60 Hz on the default orbit, under the mesh
			// motion-deferral threshold.
			angle := float32(i) * 0.005
			pose := fusion.OrbitPose(scene.Center, float32(orbitRadius), 0.2, angle)
			depth := scene.RenderDepth(pose, intr, imageWidth, imageHeight)

			result := volume.Integrate(fusion.IntegrationInput{
				Timestamp:  now,
				Intrinsics: intr,
				Pose:       pose,
				Width:      imageWidth,
				Height:     imageHeight,
				Tracking:   fusion.TrackingNormal,
			}, depth)
			if !result.Integrated {
				logrus.Debugf("[frame %06d] skipped: %s", i, result.Reason)
			}

			if meshInterval > 0 && (i+1)%meshInterval == 0 {
				out := volume.ExtractMesh(now)
				if out.TriangleCount() > 0 {
					mesh = out
				}
			}
		}
		final := volume.ExtractMesh(float64(frames) / 60.0)
		if final.TriangleCount() > 0 {
			mesh = final
		}

		volume.Metrics().Print()
		fmt.Printf("Live blocks          : %d\n", volume.BlockCount())
		fmt.Printf("Final mesh           : %d triangles, %d dirty blocks pending\n",
			mesh.TriangleCount(), mesh.DirtyBlocksRemaining)

		if objPath != "" {
			if err := writeOBJ(objPath, mesh); err != nil {
				return err
			}
			logrus.Infof("Mesh written to %s", objPath)
		}
		logrus.Info("Scan session complete.")
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Cross-check the canonical constants and an optional tuning bundle",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := fusion.ValidateConstants(); err != nil {
			return err
		}
		fmt.Println("constants: ok")
		if bundlePath != "" {
			bundle, err := fusion.LoadTuningBundle(bundlePath)
			if err != nil {
				return err
			}
			if _, err := bundle.Apply(fusion.DefaultVolumeConfig()); err != nil {
				return err
			}
			fmt.Printf("tuning bundle %s: ok\n", bundlePath)
		}
		return nil
	},
}

// writeOBJ dumps a mesh snapshot as Wavefront OBJ for inspection.
func writeOBJ(path string, mesh fusion.MeshOutput) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating OBJ file: %w", err)
	}
	defer f.Close()
	for _, v := range mesh.Vertices {
		fmt.Fprintf(f, "v %f %f %f\n", v.Position.X(), v.Position.Y(), v.Position.Z())
		fmt.Fprintf(f, "vn %f %f %f\n", v.Normal.X(), v.Normal.Y(), v.Normal.Z())
	}
	for i := 0; i+2 < len(mesh.Triangles); i += 3 {
		// OBJ indices are 1-based.
		fmt.Fprintf(f, "f %d//%d %d//%d %d//%d\n",
			mesh.Triangles[i]+1, mesh.Triangles[i]+1,
			mesh.Triangles[i+1]+1, mesh.Triangles[i+1]+1,
			mesh.Triangles[i+2]+1, mesh.Triangles[i+2]+1)
	}
	return nil
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	runCmd.Flags().IntVar(&frames, "frames", 300, "Number of synthetic depth frames to integrate")
	runCmd.Flags().Float64Var(&orbitRadius, "orbit", 1.5, "Camera orbit radius in meters")
	runCmd.Flags().Float64Var(&sceneRadius, "sphere", 0.5, "Scene sphere radius in meters")
	runCmd.Flags().IntVar(&imageWidth, "width", 96, "Depth image width in pixels")
	runCmd.Flags().IntVar(&imageHeight, "height", 72, "Depth image height in pixels")
	runCmd.Flags().StringVar(&logLevel, "log", "info", "Log level (debug, info, warn, error)")
	runCmd.Flags().StringVar(&bundlePath, "tuning", "", "Path to a YAML tuning bundle")
	runCmd.Flags().StringVar(&objPath, "obj", "", "Write the final mesh as Wavefront OBJ")
	runCmd.Flags().IntVar(&meshInterval, "mesh-every", 30, "Extract mesh every N frames (0 = only at end)")

	validateCmd.Flags().StringVar(&bundlePath, "tuning", "", "Path to a YAML tuning bundle")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
}
