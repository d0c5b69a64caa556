package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/zhouzirui/voice-twin/backend/internal/config"
	speechmodel "github.com/zhouzirui/voice-twin/backend/internal/model/speech"
	"github.com/zhouzirui/voice-twin/backend/internal/service/speech"
	"github.com/zhouzirui/voice-twin/backend/pkg/logger"
)

func main() {
	log := logger.New("debug", "console")
	defer func() { _ = log.Sync() }()

	if err := godotenv.Load(); err != nil {
		log.Warn("无法加载 .env，改用系统环境变量", zap.Error(err))
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("配置加载失败", zap.Error(err))
	}

	mode := flag.String("mode", "", "测试模式: asr 或 tts")
	audioPath := flag.String("audio", "", "ASR 输入音频文件路径 (wav 直接识别，其他格式经 ffmpeg 转码)")
	provider := flag.String("provider", "", "ASR 提供方: google 或 volcengine，默认使用配置")
	text := flag.String("text", "", "TTS 输入文本")
	outputPath := flag.String("out", "", "TTS 输出音频文件路径 (默认根据时间戳生成)")
	voice := flag.String("voice", "", "TTS 声音 ID，默认使用配置中的 TTSVoice")
	session := flag.String("session", "", "自定义 sessionID，留空则自动生成")
	timeout := flag.Duration("timeout", 45*time.Second, "请求超时时间")

	flag.Parse()

	if *mode != "asr" && *mode != "tts" {
		flag.Usage()
		log.Fatal("请通过 -mode=asr 或 -mode=tts 指定测试模式")
	}

	sessionID := *session
	if sessionID == "" {
		sessionID = fmt.Sprintf("manual-%d", time.Now().UnixNano())
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch *mode {
	case "asr":
		if *provider != "" {
			cfg.Speech.ASRProvider = strings.ToLower(*provider)
		}
		runASR(ctx, cfg, log, *audioPath)
	case "tts":
		runTTS(ctx, cfg, log, sessionID, *text, *voice, *outputPath)
	}
}

func runASR(ctx context.Context, cfg *config.Config, log *zap.Logger, audioPath string) {
	if audioPath == "" {
		log.Fatal("ASR 模式需要通过 -audio 指定音频文件路径")
	}

	var recognizer speech.Recognizer
	switch cfg.Speech.ASRProvider {
	case config.ProviderVolcengine:
		if !cfg.Speech.Enabled {
			log.Fatal("语音服务未启用，请先在环境变量中配置 SPEECH_* 或 Ark 凭证")
		}
		recognizer = speech.NewVolcengineASRClient(cfg.Speech.Volcengine(), log)
	default:
		google, err := speech.NewGoogleRecognizer(ctx, cfg.Speech.GoogleCredentialsFile, cfg.Speech.ASRLanguage)
		if err != nil {
			log.Fatal("Google Speech 客户端初始化失败", zap.Error(err))
		}
		defer google.Close()
		recognizer = google
	}

	transcriber := &speech.Transcriber{
		Recognizer: recognizer,
		Transcoder: speech.FFmpegTranscoder{Path: cfg.Speech.FFmpegPath},
		Logger:     log,
	}

	log.Info("开始进行 ASR 测试", zap.String("provider", cfg.Speech.ASRProvider), zap.String("audio", audioPath))

	transcript := transcriber.Transcribe(ctx, audioPath)
	if transcript.Degradation != speech.DegradationNone {
		log.Error("ASR 未得到文本",
			zap.Stringer("degradation", transcript.Degradation),
			zap.Error(transcript.Cause),
		)
		os.Exit(1)
	}

	log.Info("ASR 识别成功", zap.String("text", transcript.Text))
}

func runTTS(ctx context.Context, cfg *config.Config, log *zap.Logger, sessionID, text, voice, outputPath string) {
	if !cfg.Speech.Enabled {
		log.Fatal("语音服务未启用，请先在环境变量中配置 SPEECH_* 或 Ark 凭证")
	}
	if strings.TrimSpace(text) == "" {
		log.Fatal("TTS 模式需要通过 -text 提供待合成文本")
	}

	if voice == "" {
		voice = cfg.Speech.TTSVoice
	}
	if outputPath == "" {
		outputPath = fmt.Sprintf("tts-output-%d.mp3", time.Now().Unix())
	}

	client := speech.NewVolcengineTTSClient(cfg.Speech.Volcengine(), log)
	log.Info("开始进行 TTS 测试", zap.String("session_id", sessionID), zap.String("voice", voice))

	resp, err := client.Synthesize(ctx, &speechmodel.TTSRequest{
		SessionID: sessionID,
		Text:      text,
		Voice:     voice,
		Format:    "mp3",
		Language:  cfg.Speech.TTSLanguage,
	})
	if err != nil {
		log.Fatal("TTS 调用失败", zap.Error(err))
	}

	if err := os.WriteFile(outputPath, resp.AudioData, 0o644); err != nil {
		log.Fatal("写入音频文件失败", zap.Error(err))
	}

	log.Info("TTS 合成成功", zap.String("output", outputPath), zap.Int("bytes", len(resp.AudioData)))
}
