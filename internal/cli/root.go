package cmd

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ghostcrawl/ghostcrawl/internal/config"
	"github.com/ghostcrawl/ghostcrawl/internal/engine"
	"github.com/ghostcrawl/ghostcrawl/internal/metadata"
	"github.com/ghostcrawl/ghostcrawl/internal/proxypool"
	"github.com/spf13/cobra"
)

// readProxyList reads one proxy URL per line from path, applying the same
// comment-stripping rules as proxypool.ParseProxyListFile.
func readProxyList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening proxy list %s: %w", path, err)
	}
	defer f.Close()
	return proxypool.ParseProxyListFile(f)
}

var (
	cfgFile           string
	seedURLs          []string
	maxDepth          int
	concurrency       int
	workerThreads     int
	outputDir         string
	dryRun            bool
	maxPages          int
	userAgent         string
	timeout           time.Duration
	baseDelay         time.Duration
	jitter            time.Duration
	randomSeed        int64
	allowedHosts      []string
	allowedPathPrefix []string

	proxyURL        string
	proxyListFile   string
	proxyRetries    int
	gatewayBindIP   string
	gatewayBindPort int
	gatewayThreads  int
	cdpPort         int
	browserPath     string
	renderJS        bool
	noHeadless      bool
	flatOutput      bool
)

// parseStringSliceToSet converts a string slice to a map[string]struct{} set
func parseStringSliceToSet(strings []string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, s := range strings {
		if s != "" {
			set[s] = struct{}{}
		}
	}
	return set
}

// parseSeedURLs converts a string slice of URLs to []url.URL
func parseSeedURLs(urlStrings []string) ([]url.URL, error) {
	if len(urlStrings) == 0 {
		return nil, fmt.Errorf("seed URLs cannot be empty")
	}

	var urls []url.URL
	for _, urlStr := range urlStrings {
		parsedURL, err := url.Parse(urlStr)
		if err != nil {
			return nil, fmt.Errorf("error parsing seed URL %s: %w", urlStr, err)
		}
		urls = append(urls, *parsedURL)
	}
	return urls, nil
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ghostcrawl",
	Short: "A local-only documentation crawler.",
	Long: `ghostcrawl is a CLI application that crawls static documentation
websites and converts their content into clean, semantically faithful Markdown,
optimized for LLM Retrieval-Augmented Generation (RAG) workflows.

This tool aims to provide a deterministic and repeatable crawl process,
producing high-quality Markdown suitable for embedding and retrieval.`,
	Run: func(cmd *cobra.Command, args []string) {
		// Check if seed URLs are provided
		if len(seedURLs) == 0 {
			fmt.Fprintf(os.Stderr, "Error: --seed-url is required. Please provide at least one seed URL to start crawling.\n")
			cmd.Usage()
			os.Exit(1)
		}

		// Parse seed URLs
		parsedURLs, err := parseSeedURLs(seedURLs)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			os.Exit(1)
		}

		// Build config using initConfig with parsed seed URLs
		cfg := InitConfig(parsedURLs)

		// Display configuration for verification
		fmt.Printf("Configuration initialized successfully\n")
		if len(cfg.SeedURLs()) > 0 {
			var urls []string
			for _, u := range cfg.SeedURLs() {
				urls = append(urls, u.String())
			}
			fmt.Printf("Seed URLs: %s\n", strings.Join(urls, ", "))
		}
		if len(cfg.AllowedHosts()) > 0 {
			var hosts []string
			for host := range cfg.AllowedHosts() {
				hosts = append(hosts, host)
			}
			fmt.Printf("Allowed Hosts: %s\n", strings.Join(hosts, ", "))
		}
		if len(cfg.AllowedPathPrefix()) > 0 {
			fmt.Printf("Allowed Path Prefixes: %s\n", strings.Join(cfg.AllowedPathPrefix(), ", "))
		}
		fmt.Printf("Max Depth: %d\n", cfg.MaxDepth())
		fmt.Printf("Max Pages: %d\n", cfg.MaxPages())
		fmt.Printf("Concurrency: %d\n", cfg.Concurrency())
		fmt.Printf("Base Delay: %v\n", cfg.BaseDelay())
		fmt.Printf("Jitter: %v\n", cfg.Jitter())
		fmt.Printf("Random Seed: %d\n", cfg.RandomSeed())
		fmt.Printf("Timeout: %v\n", cfg.Timeout())
		fmt.Printf("User Agent: %s\n", cfg.UserAgent())
		fmt.Printf("Output Directory: %s\n", cfg.OutputDir())
		fmt.Printf("Dry Run: %t\n", cfg.DryRun())

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		recorder := metadata.NewRecorder(fmt.Sprintf("%d", time.Now().Unix()))
		crawlEngine := engine.New(cfg, &recorder, &recorder)

		fmt.Println("Starting crawl...")
		summary := crawlEngine.Run(ctx)

		fmt.Printf("Crawl finished: pages=%d errors=%d assets=%d visited=%d duration=%s\n",
			summary.PagesWritten, summary.Errors, summary.AssetsWritten, summary.VisitedCount, summary.Duration)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	// Here you will define your flags and configuration settings.
	// Cobra supports persistent flags, which, if defined here,
	// will be available to all subcommands in the docs-crawler application.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "config file path (e.g., /home/myuser/config.json)")
	rootCmd.PersistentFlags().StringArrayVar(&seedURLs, "seed-url", []string{}, "one or more starting URLs (can be repeated)")
	rootCmd.PersistentFlags().IntVarP(&maxDepth, "max-depth", "d", 5, "maximum link depth from seed URL")
	rootCmd.PersistentFlags().IntVar(&concurrency, "concurrency", 3, "number of concurrent fetch workers")
	rootCmd.PersistentFlags().IntVar(&workerThreads, "worker-threads", 4, "size of the CPU/disk pool handling conversion and writes")
	rootCmd.PersistentFlags().StringVar(&outputDir, "output-dir", "output", "root output directory for crawled content")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "crawl without writing output")
	rootCmd.PersistentFlags().IntVar(&maxPages, "max-pages", 0, "maximum number of pages to fetch (0 for unlimited)")
	rootCmd.PersistentFlags().StringVar(&userAgent, "user-agent", "", "user agent string for HTTP requests")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "timeout for HTTP requests")
	rootCmd.PersistentFlags().DurationVar(&baseDelay, "base-delay", 0, "base delay between HTTP requests to the same host")
	rootCmd.PersistentFlags().DurationVar(&jitter, "jitter", 0, "random jitter added to base delay")
	rootCmd.PersistentFlags().Int64Var(&randomSeed, "random-seed", 0, "seed for random number generation (0 for current time)")
	rootCmd.PersistentFlags().StringArrayVar(&allowedHosts, "allowed-host", []string{}, "explicit hostname allowlist (defaults to seed host)")
	rootCmd.PersistentFlags().StringArrayVar(&allowedPathPrefix, "allowed-path-prefix", []string{}, "restrict crawl to paths like `/docs`, `/guide`")

	rootCmd.PersistentFlags().StringVarP(&proxyURL, "proxy", "p", "", "single upstream proxy URL")
	rootCmd.PersistentFlags().StringVar(&proxyListFile, "proxy-list", "", "file with one upstream proxy URL per line")
	rootCmd.PersistentFlags().IntVar(&proxyRetries, "proxy-retries", 0, "failure threshold before a proxy is evicted from the pool")
	rootCmd.PersistentFlags().StringVar(&gatewayBindIP, "proxy-bind-ip", "", "local proxy gateway bind IP")
	rootCmd.PersistentFlags().IntVar(&gatewayBindPort, "proxy-bind-port", 0, "local proxy gateway bind port (0 = ephemeral)")
	rootCmd.PersistentFlags().IntVar(&gatewayThreads, "proxy-threads", 0, "local proxy gateway executor threads")
	rootCmd.PersistentFlags().IntVar(&cdpPort, "cdp-port", 0, "browser DevTools protocol port")
	rootCmd.PersistentFlags().StringVar(&browserPath, "browser", "", "explicit browser binary path (auto-discovered otherwise)")
	rootCmd.PersistentFlags().BoolVar(&renderJS, "render", false, "enable the JS-rendering fetch path via a headless browser")
	rootCmd.PersistentFlags().BoolVar(&noHeadless, "no-headless", false, "run the browser windowed instead of headless (debug only)")
	rootCmd.PersistentFlags().BoolVar(&flatOutput, "flat", false, "flat output filenames instead of the host/path tree")
}

// InitConfig reads in config file and ENV variables if set.
// seedUrls is a mandatory parameter and must contain at least one valid URL.
func InitConfig(seedUrls []url.URL) config.Config {
	cfg, err := InitConfigWithError(seedUrls)
	if err != nil {
		fmt.Printf("Error: %s\n", err)
		os.Exit(1)
	}
	return cfg
}

// InitConfigWithError reads in config file and ENV variables if set, returning any errors.
// seedUrls is a mandatory parameter and must contain at least one valid URL.
// This makes it easier to test error cases.
func InitConfigWithError(seedUrls []url.URL) (config.Config, error) {
	if len(seedUrls) == 0 {
		return config.Config{}, fmt.Errorf("%w: seedUrls cannot be empty", config.ErrInvalidConfig)
	}

	if cfgFile != "" {
		fmt.Printf("Initializing config from file: %s\n", cfgFile)
		cfg, err := config.WithConfigFile(cfgFile)
		if err != nil {
			return cfg, fmt.Errorf("error initializing config from file: %w", err)
		}
		return cfg, nil
	}

	// Build config from CLI flags using the With... functions with method chaining
	fmt.Println("No config file specified. Using default flag values or environment variables")

	// Start with default config using provided seed URLs and apply overrides using method chaining
	configBuilder := config.WithDefault(seedUrls)

	// Override with CLI flag values where provided
	if maxDepth > 0 {
		configBuilder = configBuilder.WithMaxDepth(maxDepth)
	}

	if concurrency > 0 {
		configBuilder = configBuilder.WithConcurrency(concurrency)
	}

	if workerThreads > 0 {
		configBuilder = configBuilder.WithWorkerThreads(workerThreads)
	}

	if outputDir != "" && outputDir != "output" {
		configBuilder = configBuilder.WithOutputDir(outputDir)
	}

	if dryRun {
		configBuilder = configBuilder.WithDryRun(dryRun)
	}

	if maxPages > 0 {
		configBuilder = configBuilder.WithMaxPages(maxPages)
	}

	if userAgent != "" {
		configBuilder = configBuilder.WithUserAgent(userAgent)
	}

	if timeout > 0 {
		configBuilder = configBuilder.WithTimeout(timeout)
	}

	if baseDelay > 0 {
		configBuilder = configBuilder.WithBaseDelay(baseDelay)
	}

	if jitter > 0 {
		configBuilder = configBuilder.WithJitter(jitter)
	}

	if randomSeed != 0 {
		configBuilder = configBuilder.WithRandomSeed(randomSeed)
	}

	if len(allowedHosts) > 0 {
		configBuilder = configBuilder.WithAllowedHosts(parseStringSliceToSet(allowedHosts))
	}

	if len(allowedPathPrefix) > 0 {
		configBuilder = configBuilder.WithAllowedPathPrefix(allowedPathPrefix)
	}

	var proxyURLs []string
	if proxyURL != "" {
		proxyURLs = append(proxyURLs, proxyURL)
	}
	if proxyListFile != "" {
		listed, err := readProxyList(proxyListFile)
		if err != nil {
			return config.Config{}, err
		}
		proxyURLs = append(proxyURLs, listed...)
	}
	if len(proxyURLs) > 0 {
		configBuilder = configBuilder.WithProxyURLs(proxyURLs)
	}

	if proxyRetries > 0 {
		configBuilder = configBuilder.WithProxyMaxRetries(proxyRetries)
	}

	if gatewayBindIP != "" {
		configBuilder = configBuilder.WithGatewayBindIP(gatewayBindIP)
	}

	if gatewayBindPort > 0 {
		configBuilder = configBuilder.WithGatewayBindPort(gatewayBindPort)
	}

	if gatewayThreads > 0 {
		configBuilder = configBuilder.WithGatewayThreads(gatewayThreads)
	}

	if cdpPort > 0 {
		configBuilder = configBuilder.WithCdpPort(cdpPort)
	}

	if browserPath != "" {
		configBuilder = configBuilder.WithBrowserPath(browserPath)
	}

	if renderJS {
		configBuilder = configBuilder.WithRenderJS(renderJS)
	}

	if noHeadless {
		configBuilder = configBuilder.WithNoHeadless(noHeadless)
	}

	if flatOutput {
		configBuilder = configBuilder.WithFlatOutput(flatOutput)
	}

	cfg, err := configBuilder.Build()
	if err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func ResetFlags() {
	cfgFile = ""
	seedURLs = []string{}
	maxDepth = 0
	concurrency = 0
	workerThreads = 0
	outputDir = ""
	dryRun = false
	maxPages = 0
	userAgent = ""
	timeout = 0
	baseDelay = 0
	jitter = 0
	randomSeed = 0
	allowedHosts = []string{}
	allowedPathPrefix = []string{}

	proxyURL = ""
	proxyListFile = ""
	proxyRetries = 0
	gatewayBindIP = ""
	gatewayBindPort = 0
	gatewayThreads = 0
	cdpPort = 0
	browserPath = ""
	renderJS = false
	noHeadless = false
	flatOutput = false
}

// Test helper functions to set flag values from tests
func SetConfigFileForTest(path string) {
	cfgFile = path
}

func SetSeedURLsForTest(urls []string) {
	seedURLs = urls
}

func SetMaxDepthForTest(depth int) {
	maxDepth = depth
}

func SetConcurrencyForTest(conc int) {
	concurrency = conc
}

func SetOutputDirForTest(dir string) {
	outputDir = dir
}

func SetDryRunForTest(dry bool) {
	dryRun = dry
}

func SetMaxPagesForTest(pages int) {
	maxPages = pages
}

func SetUserAgentForTest(agent string) {
	userAgent = agent
}

func SetTimeoutForTest(t time.Duration) {
	timeout = t
}

func SetBaseDelayForTest(delay time.Duration) {
	baseDelay = delay
}

func SetJitterForTest(j time.Duration) {
	jitter = j
}

func SetRandomSeedForTest(seed int64) {
	randomSeed = seed
}

func SetAllowedHostsForTest(hosts []string) {
	allowedHosts = hosts
}

func SetAllowedPathPrefixForTest(prefixes []string) {
	allowedPathPrefix = prefixes
}
